package live

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Fake Binance services

type fakeCreateOrder struct {
	symbol    string
	side      binance.SideType
	orderType binance.OrderType
	quantity  string
	price     string
	tif       binance.TimeInForceType
	clientID  string
	err       error
}

func (s *fakeCreateOrder) Symbol(symbol string) CreateOrderService { s.symbol = symbol; return s }
func (s *fakeCreateOrder) Side(side binance.SideType) CreateOrderService {
	s.side = side
	return s
}
func (s *fakeCreateOrder) Type(orderType binance.OrderType) CreateOrderService {
	s.orderType = orderType
	return s
}
func (s *fakeCreateOrder) Quantity(quantity string) CreateOrderService {
	s.quantity = quantity
	return s
}
func (s *fakeCreateOrder) Price(price string) CreateOrderService { s.price = price; return s }
func (s *fakeCreateOrder) TimeInForce(tif binance.TimeInForceType) CreateOrderService {
	s.tif = tif
	return s
}
func (s *fakeCreateOrder) NewClientOrderID(id string) CreateOrderService {
	s.clientID = id
	return s
}
func (s *fakeCreateOrder) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return &binance.CreateOrderResponse{}, s.err
}

type fakeCancelOrder struct {
	symbol   string
	clientID string
	err      error
}

func (s *fakeCancelOrder) Symbol(symbol string) CancelOrderService { s.symbol = symbol; return s }
func (s *fakeCancelOrder) OrigClientOrderID(id string) CancelOrderService {
	s.clientID = id
	return s
}
func (s *fakeCancelOrder) Do(ctx context.Context) (*binance.CancelOrderResponse, error) {
	return &binance.CancelOrderResponse{}, s.err
}

type fakeListOpenOrders struct {
	orders []*binance.Order
	err    error
}

func (s *fakeListOpenOrders) Do(ctx context.Context) ([]*binance.Order, error) {
	return s.orders, s.err
}

type fakeGetAccount struct {
	account *binance.Account
	err     error
}

func (s *fakeGetAccount) Do(ctx context.Context) (*binance.Account, error) {
	return s.account, s.err
}

type fakeStartUserStream struct {
	keys  []string
	calls int
	err   error
}

func (s *fakeStartUserStream) Do(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}

	key := s.keys[s.calls%len(s.keys)]
	s.calls++

	return key, nil
}

type fakeKeepalive struct{}

func (s *fakeKeepalive) ListenKey(listenKey string) KeepaliveUserStreamService { return s }
func (s *fakeKeepalive) Do(ctx context.Context) error                          { return nil }

type fakeClient struct {
	create      *fakeCreateOrder
	cancel      *fakeCancelOrder
	listOpen    *fakeListOpenOrders
	account     *fakeGetAccount
	startStream *fakeStartUserStream
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		create:      &fakeCreateOrder{},
		cancel:      &fakeCancelOrder{},
		listOpen:    &fakeListOpenOrders{},
		account:     &fakeGetAccount{account: &binance.Account{}},
		startStream: &fakeStartUserStream{keys: []string{"listen-key"}},
	}
}

func (c *fakeClient) NewCreateOrderService() CreateOrderService       { return c.create }
func (c *fakeClient) NewCancelOrderService() CancelOrderService       { return c.cancel }
func (c *fakeClient) NewListOpenOrdersService() ListOpenOrdersService { return c.listOpen }
func (c *fakeClient) NewGetAccountService() GetAccountService         { return c.account }
func (c *fakeClient) NewStartUserStreamService() StartUserStreamService {
	return c.startStream
}
func (c *fakeClient) NewKeepaliveUserStreamService() KeepaliveUserStreamService {
	return &fakeKeepalive{}
}

// Scripted stream connection

type readMsg struct {
	data []byte
	err  error
}

type scriptedConn struct {
	messages chan readMsg
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-c.messages
	if !ok {
		return 0, nil, io.EOF
	}

	return 1, msg.data, msg.err
}

func (c *scriptedConn) Close() error { return nil }

func newTestGateway(client Client, dial dialFunc) *Gateway {
	return newGatewayWithClient(client, dial, Config{
		APIKey:               "key",
		SecretKey:            "secret",
		StreamURL:            "wss://test",
		MaxReconnectAttempts: 1,
	}, logger.NewNopLogger())
}

func waitEvent(t *testing.T, gw *Gateway) types.OrderEvent {
	t.Helper()

	select {
	case event := <-gw.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for gateway event")

		return types.OrderEvent{}
	}
}

func TestSubmitMarketOrderMapsFields(t *testing.T) {
	client := newFakeClient()
	gw := newTestGateway(client, nil)

	order := types.Order{
		ID:       "order-1",
		Symbol:   "BTCUSDT",
		Side:     types.SideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: 0.5,
	}

	require.NoError(t, gw.SubmitOrder(context.Background(), order))

	assert.Equal(t, "BTCUSDT", client.create.symbol)
	assert.Equal(t, binance.SideTypeBuy, client.create.side)
	assert.Equal(t, binance.OrderTypeMarket, client.create.orderType)
	assert.Equal(t, "0.50000000", client.create.quantity)
	assert.Equal(t, "order-1", client.create.clientID)
	assert.Empty(t, client.create.price)
}

func TestSubmitLimitOrderCarriesPriceAndTimeInForce(t *testing.T) {
	client := newFakeClient()
	gw := newTestGateway(client, nil)

	order := types.Order{
		ID:         "order-2",
		Symbol:     "ETHUSDT",
		Side:       types.SideSell,
		Type:       types.OrderTypeLimit,
		Quantity:   2,
		LimitPrice: optional.Some(1850.25),
	}

	require.NoError(t, gw.SubmitOrder(context.Background(), order))

	assert.Equal(t, binance.OrderTypeLimit, client.create.orderType)
	assert.Equal(t, "1850.25", client.create.price)
	assert.Equal(t, binance.TimeInForceTypeGTC, client.create.tif)
}

func TestCancelOrderUsesRecordedSymbol(t *testing.T) {
	client := newFakeClient()
	gw := newTestGateway(client, nil)

	order := types.Order{
		ID:       "order-3",
		Symbol:   "BTCUSDT",
		Side:     types.SideBuy,
		Type:     types.OrderTypeMarket,
		Quantity: 1,
	}
	require.NoError(t, gw.SubmitOrder(context.Background(), order))

	require.NoError(t, gw.CancelOrder(context.Background(), "order-3"))
	assert.Equal(t, "BTCUSDT", client.cancel.symbol)
	assert.Equal(t, "order-3", client.cancel.clientID)

	err := gw.CancelOrder(context.Background(), "never-submitted")
	assert.Equal(t, errors.ErrCodeOrderNotFound, errors.GetCode(err))
}

func TestParseExecutionReportAck(t *testing.T) {
	raw := []byte(`{"e":"executionReport","s":"BTCUSDT","c":"order-1","S":"BUY","x":"NEW","X":"NEW","T":1700000000000}`)

	maybeEvent, err := parseStreamMessage(raw)
	require.NoError(t, err)
	require.True(t, maybeEvent.IsSome())

	event := maybeEvent.Unwrap()
	assert.Equal(t, types.OrderEventAck, event.Type)
	assert.Equal(t, "order-1", event.OrderID)
}

func TestParseExecutionReportFill(t *testing.T) {
	raw := []byte(`{"e":"executionReport","s":"BTCUSDT","c":"order-1","S":"BUY","x":"TRADE","X":"PARTIALLY_FILLED","l":"0.25","L":"42000.50","n":"0.0001","T":1700000000000,"t":987654}`)

	maybeEvent, err := parseStreamMessage(raw)
	require.NoError(t, err)
	require.True(t, maybeEvent.IsSome())

	event := maybeEvent.Unwrap()
	require.Equal(t, types.OrderEventFill, event.Type)

	fill := event.Fill.Unwrap()
	assert.Equal(t, "BTCUSDT-987654", fill.ExecID)
	assert.Equal(t, "order-1", fill.OrderID)
	assert.Equal(t, types.SideBuy, fill.Side)
	assert.Equal(t, 0.25, fill.Quantity)
	assert.Equal(t, 42000.50, fill.Price)
	assert.Equal(t, 0.0001, fill.Commission)
	assert.False(t, fill.Simulated)
}

func TestParseExecutionReportCancelUsesOriginalID(t *testing.T) {
	raw := []byte(`{"e":"executionReport","s":"BTCUSDT","c":"cancel-req-9","C":"order-1","x":"CANCELED","X":"CANCELED","T":1700000000000}`)

	maybeEvent, err := parseStreamMessage(raw)
	require.NoError(t, err)

	event := maybeEvent.Unwrap()
	assert.Equal(t, types.OrderEventCancelConfirm, event.Type)
	assert.Equal(t, "order-1", event.OrderID)
}

func TestParseExecutionReportReject(t *testing.T) {
	raw := []byte(`{"e":"executionReport","s":"BTCUSDT","c":"order-1","x":"REJECTED","X":"REJECTED","r":"INSUFFICIENT_BALANCE","T":1700000000000}`)

	maybeEvent, err := parseStreamMessage(raw)
	require.NoError(t, err)

	event := maybeEvent.Unwrap()
	assert.Equal(t, types.OrderEventReject, event.Type)
	assert.Equal(t, "INSUFFICIENT_BALANCE", event.Reason)
}

func TestParseIgnoresNonExecutionMessages(t *testing.T) {
	raw := []byte(`{"e":"outboundAccountPosition","E":1700000000000}`)

	maybeEvent, err := parseStreamMessage(raw)
	require.NoError(t, err)
	assert.True(t, maybeEvent.IsNone())
}

func TestParseRejectsMalformedMessage(t *testing.T) {
	_, err := parseStreamMessage([]byte("not json"))
	assert.Equal(t, errors.ErrCodeGatewayStream, errors.GetCode(err))
}

func TestStreamSessionDeliversEvents(t *testing.T) {
	client := newFakeClient()
	conn := &scriptedConn{messages: make(chan readMsg, 4)}

	dial := func(ctx context.Context, url string) (streamConn, error) {
		assert.Equal(t, "wss://test/listen-key", url)

		return conn, nil
	}

	gw := newTestGateway(client, dial)
	require.NoError(t, gw.Connect(context.Background()))

	conn.messages <- readMsg{data: []byte(`{"e":"executionReport","s":"BTCUSDT","c":"order-1","x":"NEW","X":"NEW","T":1700000000000}`)}
	conn.messages <- readMsg{data: []byte(`{"e":"executionReport","s":"BTCUSDT","c":"order-1","S":"BUY","x":"TRADE","X":"FILLED","l":"1","L":"42000","n":"0.1","T":1700000000001,"t":1}`)}

	first := waitEvent(t, gw)
	assert.Equal(t, types.OrderEventAck, first.Type)

	second := waitEvent(t, gw)
	assert.Equal(t, types.OrderEventFill, second.Type)

	require.NoError(t, gw.Close(context.Background()))
}

func TestStreamDisconnectEmitsEventAndStops(t *testing.T) {
	client := newFakeClient()
	conn := &scriptedConn{messages: make(chan readMsg, 1)}
	dialed := 0

	dial := func(ctx context.Context, url string) (streamConn, error) {
		dialed++
		if dialed > 1 {
			return nil, backoff.Permanent(errors.New(errors.ErrCodeGatewayUnavailable, "refused"))
		}

		return conn, nil
	}

	gw := newTestGateway(client, dial)
	require.NoError(t, gw.Connect(context.Background()))

	conn.messages <- readMsg{err: io.ErrUnexpectedEOF}

	event := waitEvent(t, gw)
	assert.Equal(t, types.OrderEventDisconnected, event.Type)

	select {
	case <-gw.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session loop did not stop after reconnect attempts were exhausted")
	}

	require.NoError(t, gw.Close(context.Background()))
}
