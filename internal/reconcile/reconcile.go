// Package reconcile periodically compares the ledger's positions against the
// broker's view. A divergence beyond tolerance is a fail-safe condition: the
// affected symbol is halted for new orders and an operator resolves the cause.
// The loop never rewrites the ledger to match the broker.
package reconcile

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// BrokerView is the broker-side source of truth. The live gateway implements
// it; tests substitute fakes.
type BrokerView interface {
	Positions(ctx context.Context) (map[string]float64, error)
}

// LedgerView is the engine-side position snapshot.
type LedgerView interface {
	QuantitySnapshot() map[string]float64
}

// Halter blocks new submissions for a symbol. The order lifecycle manager
// implements it.
type Halter interface {
	HaltSymbol(symbol, reason string)
}

// Mismatch records one detected divergence for operator review.
type Mismatch struct {
	Symbol    string    `yaml:"symbol" json:"symbol"`
	LedgerQty float64   `yaml:"ledger_qty" json:"ledger_qty"`
	BrokerQty float64   `yaml:"broker_qty" json:"broker_qty"`
	Delta     float64   `yaml:"delta" json:"delta"`
	Time      time.Time `yaml:"time" json:"time"`
}

// Config configures the reconciliation loop.
type Config struct {
	Interval time.Duration `yaml:"interval"`
	// QuantityTolerance absorbs rounding differences such as commission paid
	// in base asset. Anything beyond it halts the symbol.
	QuantityTolerance float64 `yaml:"quantity_tolerance"`
}

// Loop drives periodic reconciliation checks. Trigger forces an immediate
// check, used after a stream reconnect.
type Loop struct {
	log    *logger.Logger
	broker BrokerView
	ledger LedgerView
	halter Halter
	config Config

	trigger chan struct{}

	mu         sync.Mutex
	mismatches []Mismatch
}

func NewLoop(broker BrokerView, ledger LedgerView, halter Halter, config Config, log *logger.Logger) *Loop {
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}

	return &Loop{
		log:     log,
		broker:  broker,
		ledger:  ledger,
		halter:  halter,
		config:  config,
		trigger: make(chan struct{}, 1),
	}
}

// Run blocks until the context ends, checking on every interval tick and on
// every Trigger call. Check failures are logged, not fatal; the broker may be
// briefly unreachable.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-l.trigger:
		}

		if err := l.CheckOnce(ctx); err != nil {
			l.log.Error("Reconciliation check failed", zap.Error(err))
		}
	}
}

// Trigger requests an immediate check. Coalesces when one is already queued.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// CheckOnce compares ledger and broker quantities over the union of symbols.
// Every symbol whose divergence exceeds tolerance is halted and recorded; the
// returned error names the first mismatch.
func (l *Loop) CheckOnce(ctx context.Context) error {
	brokerPositions, err := l.broker.Positions(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeReconciliationQuery, "broker position query failed", err)
	}

	ledgerPositions := l.ledger.QuantitySnapshot()

	symbols := make(map[string]struct{}, len(brokerPositions)+len(ledgerPositions))
	for symbol := range brokerPositions {
		symbols[symbol] = struct{}{}
	}

	for symbol := range ledgerPositions {
		symbols[symbol] = struct{}{}
	}

	var firstErr error

	for symbol := range symbols {
		ledgerQty := ledgerPositions[symbol]
		brokerQty := brokerPositions[symbol]
		delta := brokerQty - ledgerQty

		if math.Abs(delta) <= l.config.QuantityTolerance {
			continue
		}

		mismatch := Mismatch{
			Symbol:    symbol,
			LedgerQty: ledgerQty,
			BrokerQty: brokerQty,
			Delta:     delta,
			Time:      time.Now(),
		}
		l.mu.Lock()
		l.mismatches = append(l.mismatches, mismatch)
		l.mu.Unlock()

		l.log.Error("Position mismatch",
			zap.String("symbol", symbol),
			zap.Float64("ledger_qty", ledgerQty),
			zap.Float64("broker_qty", brokerQty),
			zap.Float64("delta", delta),
		)

		l.halter.HaltSymbol(symbol, "position mismatch against broker")

		if firstErr == nil {
			firstErr = errors.Newf(errors.ErrCodeReconciliationMismatch,
				"%s: ledger %f vs broker %f", symbol, ledgerQty, brokerQty)
		}
	}

	return firstErr
}

// Mismatches returns all divergences recorded so far.
func (l *Loop) Mismatches() []Mismatch {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Mismatch, len(l.mismatches))
	copy(out, l.mismatches)

	return out
}
