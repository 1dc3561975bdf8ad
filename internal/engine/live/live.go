// Package live runs a strategy against the brokerage gateway. One event-loop
// goroutine owns all Manager and Ledger mutation, consuming a single select
// over gateway events, market data bars and a submission mailbox. The
// reconciliation loop runs concurrently and only reads ledger snapshots.
package live

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/meridian-lab/meridian-trading/internal/engine"
	"github.com/meridian-lab/meridian-trading/internal/gateway"
	livegw "github.com/meridian-lab/meridian-trading/internal/gateway/live"
	"github.com/meridian-lab/meridian-trading/internal/ledger"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/order"
	"github.com/meridian-lab/meridian-trading/internal/perf"
	"github.com/meridian-lab/meridian-trading/internal/reconcile"
	"github.com/meridian-lab/meridian-trading/internal/store"
	"github.com/meridian-lab/meridian-trading/internal/strategy"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
	"github.com/meridian-lab/meridian-trading/pkg/marketdata"
)

const (
	defaultAckTimeout     = 10 * time.Second
	defaultDrainGrace     = 5 * time.Second
	defaultAccountRefresh = time.Minute
)

// Config extends the shared engine configuration with live-only settings.
type Config struct {
	engine.Config `yaml:",inline"`

	Gateway  livegw.Config       `yaml:"gateway"`
	Interval marketdata.Interval `yaml:"interval"`

	// AckTimeout bounds how long a submitted order may wait for its broker
	// acknowledgement before being marked Unknown.
	AckTimeout time.Duration `yaml:"ack_timeout"`
	// DrainGrace bounds how long shutdown waits for in-flight events after
	// cancelling open orders.
	DrainGrace time.Duration `yaml:"drain_grace"`
	// AccountRefreshInterval paces broker account polling for equity samples.
	AccountRefreshInterval time.Duration `yaml:"account_refresh_interval"`

	Reconcile reconcile.Config `yaml:"reconcile"`

	// SymbolAssets maps traded symbols to the broker's base asset so ledger
	// positions can be compared against broker balances (BTCUSDT -> BTC).
	SymbolAssets map[string]string `yaml:"symbol_assets"`
}

// LoadConfig reads a live engine YAML config file. Validation happens when
// the engine is built.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeEngineConfig, "failed to read config file", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeEngineConfig, "failed to parse config file", err)
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Interval == "" {
		c.Interval = marketdata.Interval1m
	}

	if c.AckTimeout <= 0 {
		c.AckTimeout = defaultAckTimeout
	}

	if c.DrainGrace <= 0 {
		c.DrainGrace = defaultDrainGrace
	}

	if c.AccountRefreshInterval <= 0 {
		c.AccountRefreshInterval = defaultAccountRefresh
	}
}

// brokerGateway is what the engine needs from the live gateway beyond the
// core capability contract.
type brokerGateway interface {
	gateway.Gateway
	Connect(ctx context.Context) error
	Positions(ctx context.Context) (map[string]float64, error)
	Account(ctx context.Context) (types.AccountSnapshot, error)
	OpenOrders(ctx context.Context) ([]string, error)
}

// BarFeed delivers completed bars; Bars is closed when Run returns.
type BarFeed interface {
	Run(ctx context.Context) error
	Bars() <-chan types.Bar
}

// brokerPositions translates per-asset broker balances into ledger symbols
// for the reconciliation loop.
type brokerPositions struct {
	gateway brokerGateway
	assets  map[string]string
}

var _ reconcile.BrokerView = (*brokerPositions)(nil)

func (b *brokerPositions) Positions(ctx context.Context) (map[string]float64, error) {
	balances, err := b.gateway.Positions(ctx)
	if err != nil {
		return nil, err
	}

	positions := make(map[string]float64, len(b.assets))

	for symbol, asset := range b.assets {
		if quantity, ok := balances[asset]; ok && quantity != 0 {
			positions[symbol] = quantity
		}
	}

	return positions, nil
}

// accountCache holds the last broker cash reading. Written and read only on
// the event loop goroutine.
type accountCache struct {
	cash float64
}

func (a *accountCache) Cash() float64 { return a.cash }

// Engine is the live trading loop.
type Engine struct {
	log      *logger.Logger
	config   Config
	strategy strategy.Strategy
	gateway  brokerGateway
	feed     BarFeed
	ledger   *ledger.Ledger
	manager  *order.Manager
	store    *store.Store
	perf     *perf.Aggregator
	recorder *engine.Recorder

	reconciler *reconcile.Loop
	account    *accountCache
	lastClose  map[string]float64

	mailbox chan types.OrderRequest
}

// New wires a live engine against the Binance gateway and kline stream.
func New(config Config, log *logger.Logger) (*Engine, error) {
	s, err := engine.BuildStrategy(config.Strategy)
	if err != nil {
		return nil, err
	}

	gw := livegw.NewGateway(config.Gateway, log)
	feed := marketdata.NewKlineStream(config.Symbols, config.Interval, log)

	return newEngine(config, s, gw, feed, log)
}

func newEngine(config Config, s strategy.Strategy, gw brokerGateway, feed BarFeed, log *logger.Logger) (*Engine, error) {
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	for _, symbol := range config.Symbols {
		if _, ok := config.SymbolAssets[symbol]; !ok {
			return nil, errors.Newf(errors.ErrCodeEngineConfig, "symbol %s has no base asset mapping", symbol)
		}
	}

	book := ledger.NewLedger(log)

	manager := order.NewManager(gw, book, log)
	manager.RestrictSymbols(config.Symbols)

	st, err := store.NewStore(config.StorePath, log)
	if err != nil {
		return nil, err
	}

	aggregator := perf.NewAggregator(perf.Config{AnnualizationFactor: config.AnnualizationFactor})

	recorder := engine.NewRecorder(s, st, aggregator, log)
	manager.SetListener(recorder)

	broker := &brokerPositions{gateway: gw, assets: config.SymbolAssets}
	reconciler := reconcile.NewLoop(broker, book, manager, config.Reconcile, log)

	return &Engine{
		log:        log,
		config:     config,
		strategy:   s,
		gateway:    gw,
		feed:       feed,
		ledger:     book,
		manager:    manager,
		store:      st,
		perf:       aggregator,
		recorder:   recorder,
		reconciler: reconciler,
		account:    &accountCache{},
		lastClose:  make(map[string]float64),
		mailbox:    make(chan types.OrderRequest, 64),
	}, nil
}

// Enqueue hands an order intent to the event loop. It never touches the
// manager directly; the loop is the single writer.
func (e *Engine) Enqueue(request types.OrderRequest) {
	e.mailbox <- request
}

// Stats returns the aggregated performance so far.
func (e *Engine) Stats() types.PerformanceStats {
	return e.perf.Stats()
}

// Run connects the gateway and processes events until the context ends, then
// shuts down gracefully. It blocks for the lifetime of the session.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.gateway.Connect(ctx); err != nil {
		return err
	}

	if snapshot, err := e.gateway.Account(ctx); err == nil {
		e.account.cash = snapshot.Cash
	} else {
		e.log.Warn("Initial account query failed", zap.Error(err))
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := e.feed.Run(loopCtx); err != nil {
			e.log.Error("Market data feed stopped", zap.Error(err))
			cancel()
		}
	}()

	go e.reconciler.Run(loopCtx)

	e.reconciler.Trigger()

	strategyCtx := &strategy.Context{
		Ctx:     loopCtx,
		Orders:  e.manager,
		Book:    e.ledger,
		Account: e.account,
		Log:     e.log,
	}

	ackTicker := time.NewTicker(e.config.AckTimeout / 2)
	defer ackTicker.Stop()

	accountTicker := time.NewTicker(e.config.AccountRefreshInterval)
	defer accountTicker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return e.shutdown()

		case event, ok := <-e.gateway.Events():
			if !ok {
				return e.shutdown()
			}

			e.handleEvent(event)

		case bar, ok := <-e.feed.Bars():
			if !ok {
				return e.shutdown()
			}

			e.handleBar(strategyCtx, bar)

		case request := <-e.mailbox:
			if _, err := e.manager.Submit(loopCtx, request); err != nil {
				e.log.Error("Mailbox submission rejected",
					zap.String("symbol", request.Symbol),
					zap.Error(err),
				)
			}

		case <-ackTicker.C:
			e.expireStaleAcks()

		case <-accountTicker.C:
			if snapshot, err := e.gateway.Account(loopCtx); err == nil {
				e.account.cash = snapshot.Cash
			} else {
				e.log.Warn("Account refresh failed", zap.Error(err))
			}
		}
	}
}

func (e *Engine) handleEvent(event types.OrderEvent) {
	switch event.Type {
	case types.OrderEventDisconnected:
		e.log.Warn("Gateway disconnected; order state frozen until reconnect")

		return
	case types.OrderEventReconnected:
		e.log.Info("Gateway reconnected; triggering reconciliation")
		e.resyncOpenOrders()
		e.reconciler.Trigger()

		return
	}

	if event.Fill.IsSome() {
		e.recorder.RecordFill(event.Fill.Unwrap())
	}

	if err := e.manager.Apply(event); err != nil {
		// Live degrades instead of crashing; the error codes make these
		// visible for operators.
		e.log.Error("Event application failed",
			zap.String("order_id", event.OrderID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}

func (e *Engine) handleBar(strategyCtx *strategy.Context, bar types.Bar) {
	if err := bar.Validate(); err != nil {
		e.log.Warn("Dropping malformed bar", zap.String("symbol", bar.Symbol), zap.Error(err))

		return
	}

	if err := e.strategy.OnBar(strategyCtx, bar); err != nil {
		e.log.Error("Strategy error on bar",
			zap.String("symbol", bar.Symbol),
			zap.Error(err),
		)
	}

	e.lastClose[bar.Symbol] = bar.Close
	e.recorder.RecordEquity(types.EquityPoint{Time: bar.Time, Equity: e.equity()})
}

// resyncOpenOrders compares locally open orders against the broker's open
// order list after a reconnect. Execution reports emitted during the gap are
// gone, so an order the broker no longer lists may have filled or died
// unseen; it is surfaced rather than guessed at.
func (e *Engine) resyncOpenOrders() {
	queryCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	brokerOpen, err := e.gateway.OpenOrders(queryCtx)
	if err != nil {
		e.log.Warn("Open order query failed after reconnect", zap.Error(err))

		return
	}

	open := make(map[string]struct{}, len(brokerOpen))
	for _, id := range brokerOpen {
		open[id] = struct{}{}
	}

	for _, o := range e.manager.OpenOrders() {
		if _, ok := open[o.ID]; ok {
			continue
		}

		e.log.Error("Order open locally but not at broker; state changed during the disconnect",
			zap.String("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.String("state", string(o.State)),
		)

		if o.State == types.OrderStateSubmitted {
			if err := e.manager.MarkUnknown(o.ID); err != nil {
				e.log.Warn("Failed to mark order unknown", zap.String("order_id", o.ID), zap.Error(err))
			}
		}
	}
}

// expireStaleAcks marks orders that never received a broker acknowledgement
// as Unknown so reconciliation picks them up.
func (e *Engine) expireStaleAcks() {
	deadline := time.Now().Add(-e.config.AckTimeout)

	for _, o := range e.manager.OpenOrders() {
		if o.State == types.OrderStateSubmitted && o.UpdatedAt.Before(deadline) {
			e.log.Error("Order acknowledgement timed out",
				zap.String("order_id", o.ID),
				zap.String("symbol", o.Symbol),
			)
			if err := e.manager.MarkUnknown(o.ID); err != nil {
				e.log.Warn("Failed to mark order unknown", zap.String("order_id", o.ID), zap.Error(err))
			}

			e.reconciler.Trigger()
		}
	}
}

func (e *Engine) equity() float64 {
	equity := e.account.cash

	for _, position := range e.ledger.Positions() {
		equity += position.Quantity * e.lastClose[position.Symbol]
	}

	return equity
}

// shutdown cancels open orders best-effort, drains gateway events for the
// grace period, then closes the gateway. Orders still open afterwards are
// logged; their later fills will be missed.
func (e *Engine) shutdown() error {
	e.log.Info("Shutting down live engine")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), e.config.DrainGrace)
	defer cancel()

	for _, o := range e.manager.OpenOrders() {
		if !o.CanCancel() {
			continue
		}

		if err := e.gateway.CancelOrder(shutdownCtx, o.ID); err != nil {
			e.log.Warn("Shutdown cancel failed",
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
		}
	}

	e.drainUntil(shutdownCtx)

	for _, o := range e.manager.OpenOrders() {
		e.log.Error("Order still open at shutdown; subsequent fills will be missed",
			zap.String("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.String("state", string(o.State)),
		)
	}

	if err := e.gateway.Close(shutdownCtx); err != nil {
		e.log.Warn("Gateway close failed", zap.Error(err))
	}

	return e.store.Close()
}

func (e *Engine) drainUntil(ctx context.Context) {
	for {
		select {
		case event, ok := <-e.gateway.Events():
			if !ok {
				return
			}

			e.handleEvent(event)

		case <-ctx.Done():
			return
		}
	}
}
