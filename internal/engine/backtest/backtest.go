// Package backtest runs a strategy against historical bars through the
// simulated gateway. The loop is single-threaded: every bar is fully
// processed, fills applied and equity sampled, before the next bar is read.
// Two runs over the same data produce identical fills and statistics.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/commission"
	"github.com/meridian-lab/meridian-trading/internal/datasource"
	"github.com/meridian-lab/meridian-trading/internal/engine"
	"github.com/meridian-lab/meridian-trading/internal/gateway/sim"
	"github.com/meridian-lab/meridian-trading/internal/ledger"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/order"
	"github.com/meridian-lab/meridian-trading/internal/perf"
	"github.com/meridian-lab/meridian-trading/internal/slippage"
	"github.com/meridian-lab/meridian-trading/internal/store"
	"github.com/meridian-lab/meridian-trading/internal/strategy"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Result summarizes a completed backtest.
type Result struct {
	Stats  types.PerformanceStats
	Trades []types.Trade
	// FinalCash is the simulated account cash after the last bar.
	FinalCash float64
	// BarsProcessed counts the bars replayed.
	BarsProcessed int
}

// Engine drives one backtest run.
type Engine struct {
	log      *logger.Logger
	config   engine.Config
	strategy strategy.Strategy
	gateway  *sim.Gateway
	ledger   *ledger.Ledger
	manager  *order.Manager
	store    *store.Store
	perf     *perf.Aggregator
	recorder *engine.Recorder

	// lastClose marks open positions at the most recent close per symbol for
	// equity sampling.
	lastClose map[string]float64

	// Progress, when set, is called once per processed bar.
	Progress func()
}

// New wires a backtest engine from configuration. Close releases the store.
func New(config engine.Config, log *logger.Logger) (*Engine, error) {
	s, err := engine.BuildStrategy(config.Strategy)
	if err != nil {
		return nil, err
	}

	return NewWithStrategy(config, s, log)
}

// NewWithStrategy wires a backtest engine around an already initialized
// strategy.
func NewWithStrategy(config engine.Config, s strategy.Strategy, log *logger.Logger) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	gw := sim.NewGateway(
		sim.Config{
			FillPolicy:       config.FillPolicy,
			LimitTouchPolicy: config.LimitTouchPolicy,
			InitialCash:      config.InitialCash,
		},
		slippage.ForKind(config.Slippage.Kind, config.Slippage.Rate),
		commission.ForModel(config.Commission.Model, config.Commission.Rate),
		log,
	)

	book := ledger.NewLedger(log)

	manager := order.NewManager(gw, book, log)
	manager.RestrictSymbols(config.Symbols)

	// Sequential ids keep the persisted fill stream identical across reruns.
	orderSeq := 0
	manager.SetIDGenerator(func() string {
		orderSeq++

		return fmt.Sprintf("bt-%06d", orderSeq)
	})

	st, err := store.NewStore(config.StorePath, log)
	if err != nil {
		return nil, err
	}

	aggregator := perf.NewAggregator(perf.Config{AnnualizationFactor: config.AnnualizationFactor})

	recorder := engine.NewRecorder(s, st, aggregator, log)
	manager.SetListener(recorder)

	return &Engine{
		log:       log,
		config:    config,
		strategy:  s,
		gateway:   gw,
		ledger:    book,
		manager:   manager,
		store:     st,
		perf:      aggregator,
		recorder:  recorder,
		lastClose: make(map[string]float64),
	}, nil
}

// Strategy returns the initialized strategy, for naming reports.
func (e *Engine) Strategy() strategy.Strategy {
	return e.strategy
}

// Run replays bars from the source through the simulated gateway. It fails
// fast on malformed bars and strategy errors.
func (e *Engine) Run(ctx context.Context, source datasource.BarSource, start, end optional.Option[time.Time]) (Result, error) {
	strategyCtx := &strategy.Context{
		Ctx:     ctx,
		Orders:  e.manager,
		Book:    e.ledger,
		Account: e.gateway,
		Log:     e.log,
	}

	processed := 0

	for bar, err := range source.ReadAll(start, end) {
		if err != nil {
			return Result{}, errors.Wrap(errors.ErrCodeEngineNoData, "bar source failed", err)
		}

		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		if err := e.processBar(strategyCtx, bar); err != nil {
			return Result{}, err
		}

		processed++

		if e.Progress != nil {
			e.Progress()
		}
	}

	if processed == 0 {
		return Result{}, errors.New(errors.ErrCodeEngineNoData, "bar source yielded no bars")
	}

	if e.config.ExportDir != "" {
		if err := e.store.Export(e.config.ExportDir); err != nil {
			return Result{}, err
		}
	}

	result := Result{
		Stats:         e.perf.Stats(),
		Trades:        e.ledger.Trades(),
		FinalCash:     e.gateway.Cash(),
		BarsProcessed: processed,
	}

	e.log.Info("Backtest complete",
		zap.Int("bars", result.BarsProcessed),
		zap.Int("trades", result.Stats.NumberOfTrades),
		zap.Float64("total_return", result.Stats.TotalReturn),
	)

	return result, nil
}

func (e *Engine) processBar(strategyCtx *strategy.Context, bar types.Bar) error {
	// Fills for orders resting from earlier bars happen first, so the
	// strategy observes them before acting on this bar.
	if err := e.gateway.ProcessBar(bar); err != nil {
		return err
	}

	if err := e.drainEvents(); err != nil {
		return err
	}

	if err := e.strategy.OnBar(strategyCtx, bar); err != nil {
		return errors.Wrapf(errors.ErrCodeStrategyRuntime, err, "strategy %s failed on bar", e.strategy.Name())
	}

	// Under same-close, orders submitted on this bar execute against it with a
	// second sweep. Orders that already rested through the first sweep see the
	// same bar again, which cannot change their outcome.
	if e.config.FillPolicy == sim.FillPolicySameClose {
		if err := e.gateway.ProcessBar(bar); err != nil {
			return err
		}
	}

	// Acks for this bar's submissions, and same-close fills, land now.
	if err := e.drainEvents(); err != nil {
		return err
	}

	e.lastClose[bar.Symbol] = bar.Close
	e.recorder.RecordEquity(types.EquityPoint{Time: bar.Time, Equity: e.equity()})

	return nil
}

// drainEvents applies everything the gateway has queued.
func (e *Engine) drainEvents() error {
	for {
		select {
		case event := <-e.gateway.Events():
			if event.Fill.IsSome() {
				e.recorder.RecordFill(event.Fill.Unwrap())
			}

			if err := e.manager.Apply(event); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// equity is cash plus open positions marked at the latest close.
func (e *Engine) equity() float64 {
	equity := e.gateway.Cash()

	for _, position := range e.ledger.Positions() {
		equity += position.Quantity * e.lastClose[position.Symbol]
	}

	return equity
}

// Close releases the result store.
func (e *Engine) Close() error {
	return e.store.Close()
}
