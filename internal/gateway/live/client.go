package live

import (
	"context"

	"github.com/adshao/go-binance/v2"
)

// Service interfaces abstract the Binance client so tests can substitute fakes.

// CreateOrderService creates orders.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	Price(price string) CreateOrderService
	TimeInForce(tif binance.TimeInForceType) CreateOrderService
	NewClientOrderID(id string) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

// CancelOrderService cancels an order by its client order id.
type CancelOrderService interface {
	Symbol(symbol string) CancelOrderService
	OrigClientOrderID(id string) CancelOrderService
	Do(ctx context.Context) (*binance.CancelOrderResponse, error)
}

// ListOpenOrdersService lists resting orders.
type ListOpenOrdersService interface {
	Do(ctx context.Context) ([]*binance.Order, error)
}

// GetAccountService fetches account balances.
type GetAccountService interface {
	Do(ctx context.Context) (*binance.Account, error)
}

// StartUserStreamService obtains a listen key for the user data stream.
type StartUserStreamService interface {
	Do(ctx context.Context) (string, error)
}

// KeepaliveUserStreamService extends the listen key lifetime.
type KeepaliveUserStreamService interface {
	ListenKey(listenKey string) KeepaliveUserStreamService
	Do(ctx context.Context) error
}

// Client is the narrow Binance surface the gateway needs.
type Client interface {
	NewCreateOrderService() CreateOrderService
	NewCancelOrderService() CancelOrderService
	NewListOpenOrdersService() ListOpenOrdersService
	NewGetAccountService() GetAccountService
	NewStartUserStreamService() StartUserStreamService
	NewKeepaliveUserStreamService() KeepaliveUserStreamService
}

// realClient wraps the actual binance.Client.
type realClient struct {
	client *binance.Client
}

func (r *realClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: r.client.NewCreateOrderService()}
}

func (r *realClient) NewCancelOrderService() CancelOrderService {
	return &realCancelOrderService{service: r.client.NewCancelOrderService()}
}

func (r *realClient) NewListOpenOrdersService() ListOpenOrdersService {
	return &realListOpenOrdersService{service: r.client.NewListOpenOrdersService()}
}

func (r *realClient) NewGetAccountService() GetAccountService {
	return &realGetAccountService{service: r.client.NewGetAccountService()}
}

func (r *realClient) NewStartUserStreamService() StartUserStreamService {
	return &realStartUserStreamService{service: r.client.NewStartUserStreamService()}
}

func (r *realClient) NewKeepaliveUserStreamService() KeepaliveUserStreamService {
	return &realKeepaliveUserStreamService{service: r.client.NewKeepaliveUserStreamService()}
}

type realCreateOrderService struct {
	service *binance.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)

	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOrderService) Price(price string) CreateOrderService {
	s.service = s.service.Price(price)

	return s
}

func (s *realCreateOrderService) TimeInForce(tif binance.TimeInForceType) CreateOrderService {
	s.service = s.service.TimeInForce(tif)

	return s
}

func (s *realCreateOrderService) NewClientOrderID(id string) CreateOrderService {
	s.service = s.service.NewClientOrderID(id)

	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx)
}

type realCancelOrderService struct {
	service *binance.CancelOrderService
}

func (s *realCancelOrderService) Symbol(symbol string) CancelOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCancelOrderService) OrigClientOrderID(id string) CancelOrderService {
	s.service = s.service.OrigClientOrderID(id)

	return s
}

func (s *realCancelOrderService) Do(ctx context.Context) (*binance.CancelOrderResponse, error) {
	return s.service.Do(ctx)
}

type realListOpenOrdersService struct {
	service *binance.ListOpenOrdersService
}

func (s *realListOpenOrdersService) Do(ctx context.Context) ([]*binance.Order, error) {
	return s.service.Do(ctx)
}

type realGetAccountService struct {
	service *binance.GetAccountService
}

func (s *realGetAccountService) Do(ctx context.Context) (*binance.Account, error) {
	return s.service.Do(ctx)
}

type realStartUserStreamService struct {
	service *binance.StartUserStreamService
}

func (s *realStartUserStreamService) Do(ctx context.Context) (string, error) {
	return s.service.Do(ctx)
}

type realKeepaliveUserStreamService struct {
	service *binance.KeepaliveUserStreamService
}

func (s *realKeepaliveUserStreamService) ListenKey(listenKey string) KeepaliveUserStreamService {
	s.service = s.service.ListenKey(listenKey)

	return s
}

func (s *realKeepaliveUserStreamService) Do(ctx context.Context) error {
	return s.service.Do(ctx)
}
