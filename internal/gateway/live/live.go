// Package live implements the execution gateway backed by the Binance spot
// API. Order state changes arrive on the user data stream; the gateway
// normalizes them into the same event vocabulary the simulated gateway emits,
// so the order lifecycle manager cannot tell the two apart.
package live

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/gateway"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

const (
	defaultStreamURL = "wss://stream.binance.com:9443/ws"
	testnetStreamURL = "wss://stream.testnet.binance.vision/ws"

	// quantityPrecision is a fallback; production sizing should use the
	// symbol's LOT_SIZE filter from exchange info.
	quantityPrecision = 8

	defaultKeepaliveInterval    = 30 * time.Minute
	defaultMaxReconnectAttempts = 5
)

// Config configures the live gateway.
type Config struct {
	APIKey     string `yaml:"api_key" validate:"required"`
	SecretKey  string `yaml:"secret_key" validate:"required"`
	UseTestnet bool   `yaml:"use_testnet"`
	// StreamURL overrides the user data stream endpoint. Defaults follow
	// UseTestnet.
	StreamURL            string        `yaml:"stream_url"`
	KeepaliveInterval    time.Duration `yaml:"keepalive_interval"`
	MaxReconnectAttempts uint64        `yaml:"max_reconnect_attempts"`
}

// streamConn is the subset of a websocket connection the gateway reads from.
type streamConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type dialFunc func(ctx context.Context, url string) (streamConn, error)

// Gateway is the live Binance execution gateway. Client order ids are the
// engine's own order ids, which is how stream events are correlated back to
// orders without any broker-side id mapping.
type Gateway struct {
	log    *logger.Logger
	client Client
	config Config
	dial   dialFunc

	events chan types.OrderEvent
	cancel context.CancelFunc
	done   chan struct{}

	mu sync.Mutex
	// symbols maps order id to symbol; Binance cancels require both.
	symbols map[string]string
	started bool
	closed  bool
}

var _ gateway.Gateway = (*Gateway)(nil)

func NewGateway(config Config, log *logger.Logger) *Gateway {
	if config.UseTestnet {
		binance.UseTestnet = true
	}

	client := binance.NewClient(config.APIKey, config.SecretKey)

	dial := func(ctx context.Context, url string) (streamConn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}

		return conn, nil
	}

	return newGatewayWithClient(&realClient{client: client}, dial, config, log)
}

// newGatewayWithClient is the test seam.
func newGatewayWithClient(client Client, dial dialFunc, config Config, log *logger.Logger) *Gateway {
	if config.StreamURL == "" {
		if config.UseTestnet {
			config.StreamURL = testnetStreamURL
		} else {
			config.StreamURL = defaultStreamURL
		}
	}

	if config.KeepaliveInterval == 0 {
		config.KeepaliveInterval = defaultKeepaliveInterval
	}

	if config.MaxReconnectAttempts == 0 {
		config.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}

	return &Gateway{
		log:     log,
		client:  client,
		config:  config,
		dial:    dial,
		events:  make(chan types.OrderEvent, 1024),
		done:    make(chan struct{}),
		symbols: make(map[string]string),
	}
}

// Connect establishes the user data stream and starts the session loop.
// It blocks until the first connection is up or fails permanently.
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()

		return errors.New(errors.ErrCodeGatewayUnavailable, "gateway already connected")
	}
	g.started = true
	g.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	conn, listenKey, err := g.openStream(ctx)
	if err != nil {
		cancel()

		return err
	}

	go g.run(runCtx, conn, listenKey)

	return nil
}

// SubmitOrder places the order with the engine's order id as the client order
// id, so every later stream event carries the correlation key.
func (g *Gateway) SubmitOrder(ctx context.Context, order types.Order) error {
	var side binance.SideType

	switch order.Side {
	case types.SideBuy:
		side = binance.SideTypeBuy
	case types.SideSell:
		side = binance.SideTypeSell
	default:
		return errors.Newf(errors.ErrCodeInvalidParameter, "unsupported side %s", order.Side)
	}

	g.mu.Lock()
	g.symbols[order.ID] = order.Symbol
	g.mu.Unlock()

	service := g.client.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(side).
		Quantity(strconv.FormatFloat(order.Quantity, 'f', quantityPrecision, 64)).
		NewClientOrderID(order.ID)

	switch order.Type {
	case types.OrderTypeMarket:
		service = service.Type(binance.OrderTypeMarket)
	case types.OrderTypeLimit:
		service = service.
			Type(binance.OrderTypeLimit).
			Price(strconv.FormatFloat(order.LimitPrice.Unwrap(), 'f', -1, 64)).
			TimeInForce(binance.TimeInForceTypeGTC)
	default:
		return errors.Newf(errors.ErrCodeInvalidParameter, "unsupported order type %s", order.Type)
	}

	if _, err := service.Do(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeGatewaySubmit, "order placement failed", err)
	}

	return nil
}

// CancelOrder cancels by the original client order id.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	symbol, ok := g.symbols[orderID]
	g.mu.Unlock()

	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "no symbol recorded for order %s", orderID)
	}

	_, err := g.client.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(orderID).
		Do(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeGatewayCancel, "cancel request failed", err)
	}

	return nil
}

func (g *Gateway) Events() <-chan types.OrderEvent {
	return g.events
}

// Close stops the session loop and closes the event stream.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()

		return nil
	}
	g.closed = true
	started := g.started
	g.mu.Unlock()

	if started && g.cancel != nil {
		g.cancel()

		select {
		case <-g.done:
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCodeGatewayDisconnect, "shutdown timed out", ctx.Err())
		}
	}

	close(g.events)

	return nil
}

// Positions returns signed quantities per asset from the broker's account
// endpoint. This is the reconciliation loop's view of truth.
func (g *Gateway) Positions(ctx context.Context) (map[string]float64, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeGatewayQuery, "account query failed", err)
	}

	positions := make(map[string]float64)

	for _, balance := range account.Balances {
		free, _ := strconv.ParseFloat(balance.Free, 64)
		locked, _ := strconv.ParseFloat(balance.Locked, 64)

		if total := free + locked; total != 0 {
			positions[balance.Asset] = total
		}
	}

	return positions, nil
}

// Account returns the broker's cash view in quote currency.
func (g *Gateway) Account(ctx context.Context) (types.AccountSnapshot, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return types.AccountSnapshot{}, errors.Wrap(errors.ErrCodeGatewayQuery, "account query failed", err)
	}

	var cash float64

	for _, balance := range account.Balances {
		switch balance.Asset {
		case "USDT", "BUSD", "USD":
			free, _ := strconv.ParseFloat(balance.Free, 64)
			locked, _ := strconv.ParseFloat(balance.Locked, 64)
			cash += free + locked
		}
	}

	return types.AccountSnapshot{Cash: cash, Equity: cash, Time: time.Now()}, nil
}

// OpenOrders returns the client order ids of orders still resting at the
// broker.
func (g *Gateway) OpenOrders(ctx context.Context) ([]string, error) {
	orders, err := g.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeGatewayQuery, "open orders query failed", err)
	}

	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ClientOrderID)
	}

	return ids, nil
}

// run owns the stream session: read until failure, then reconnect with
// backoff. Exits when the context is cancelled or reconnection attempts are
// exhausted.
func (g *Gateway) run(ctx context.Context, conn streamConn, listenKey string) {
	defer close(g.done)

	for {
		g.readSession(ctx, conn, listenKey)

		if ctx.Err() != nil {
			return
		}

		g.emit(types.OrderEvent{
			Type:   types.OrderEventDisconnected,
			Reason: "user data stream read failed",
			Time:   time.Now(),
		})

		var err error

		conn, listenKey, err = g.openStream(ctx)
		if err != nil {
			g.log.Error("Reconnect attempts exhausted", zap.Error(err))

			return
		}

		g.emit(types.OrderEvent{Type: types.OrderEventReconnected, Time: time.Now()})
	}
}

// openStream obtains a listen key and dials the stream, retrying with
// exponential backoff up to the configured attempt cap.
func (g *Gateway) openStream(ctx context.Context) (streamConn, string, error) {
	var (
		conn      streamConn
		listenKey string
	)

	operation := func() error {
		key, err := g.client.NewStartUserStreamService().Do(ctx)
		if err != nil {
			return err
		}

		c, err := g.dial(ctx, g.config.StreamURL+"/"+key)
		if err != nil {
			return err
		}

		conn = c
		listenKey = key

		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), g.config.MaxReconnectAttempts),
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, "", errors.Wrap(errors.ErrCodeGatewayUnavailable, "could not establish user data stream", err)
	}

	return conn, listenKey, nil
}

// readSession reads one connection until it fails or the context ends. A
// keepalive ticker extends the listen key for the lifetime of the session.
func (g *Gateway) readSession(ctx context.Context, conn streamConn, listenKey string) {
	defer conn.Close()

	type readResult struct {
		message []byte
		err     error
	}

	reads := make(chan readResult)

	go func() {
		defer close(reads)

		for {
			_, message, err := conn.ReadMessage()

			select {
			case reads <- readResult{message: message, err: err}:
			case <-ctx.Done():
				return
			}

			if err != nil {
				return
			}
		}
	}()

	keepalive := time.NewTicker(g.config.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if err := g.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
				g.log.Warn("Listen key keepalive failed", zap.Error(err))
			}
		case result, ok := <-reads:
			if !ok || result.err != nil {
				return
			}

			g.handleMessage(result.message)
		}
	}
}

func (g *Gateway) handleMessage(message []byte) {
	maybeEvent, err := parseStreamMessage(message)
	if err != nil {
		g.log.Warn("Dropping unparseable stream message", zap.Error(err))

		return
	}

	if maybeEvent.IsNone() {
		return
	}

	g.emit(maybeEvent.Unwrap())
}

// emit blocks when the buffer is full. Dropping fills is never acceptable;
// backpressure on the consumer is.
func (g *Gateway) emit(event types.OrderEvent) {
	g.events <- event
}
