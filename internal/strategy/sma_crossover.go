package strategy

import (
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// SMACrossoverConfig tunes the moving-average crossover strategy.
type SMACrossoverConfig struct {
	FastPeriod int `yaml:"fast_period"`
	SlowPeriod int `yaml:"slow_period"`
	// CashFraction is the share of available cash committed on a buy signal.
	CashFraction float64 `yaml:"cash_fraction"`
}

// SMACrossover buys when the fast moving average crosses above the slow one
// and sells the whole position when it crosses back below. One position per
// symbol, long only.
type SMACrossover struct {
	config SMACrossoverConfig

	// closes keeps the trailing slow-period window of closes per symbol.
	closes map[string][]float64
	// prevDelta tracks the last fast-minus-slow sign per symbol so a cross is
	// detected exactly once.
	prevDelta map[string]float64
}

var _ Strategy = (*SMACrossover)(nil)

func NewSMACrossover() *SMACrossover {
	return &SMACrossover{
		closes:    make(map[string][]float64),
		prevDelta: make(map[string]float64),
	}
}

func (s *SMACrossover) Name() string {
	return fmt.Sprintf("sma_crossover_%d_%d", s.config.FastPeriod, s.config.SlowPeriod)
}

func (s *SMACrossover) Initialize(config string) error {
	s.config = SMACrossoverConfig{
		FastPeriod:   10,
		SlowPeriod:   30,
		CashFraction: 0.95,
	}

	if config != "" {
		if err := yaml.Unmarshal([]byte(config), &s.config); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse sma crossover config", err)
		}
	}

	if s.config.FastPeriod <= 0 || s.config.SlowPeriod <= s.config.FastPeriod {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"fast period %d must be positive and below slow period %d",
			s.config.FastPeriod, s.config.SlowPeriod)
	}

	if s.config.CashFraction <= 0 || s.config.CashFraction > 1 {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"cash fraction %f must be in (0, 1]", s.config.CashFraction)
	}

	return nil
}

func (s *SMACrossover) OnBar(ctx *Context, bar types.Bar) error {
	window := append(s.closes[bar.Symbol], bar.Close)
	if len(window) > s.config.SlowPeriod {
		window = window[len(window)-s.config.SlowPeriod:]
	}

	s.closes[bar.Symbol] = window

	if len(window) < s.config.SlowPeriod {
		return nil
	}

	fast := sma(window, s.config.FastPeriod)
	slow := sma(window, s.config.SlowPeriod)
	delta := fast - slow

	prev, seen := s.prevDelta[bar.Symbol]
	s.prevDelta[bar.Symbol] = delta

	if !seen {
		return nil
	}

	position := ctx.Book.Position(bar.Symbol)

	switch {
	case delta > 0 && prev <= 0 && position.Quantity == 0:
		return s.enter(ctx, bar)
	case delta < 0 && prev >= 0 && position.Quantity > 0:
		return s.exit(ctx, bar, position.Quantity)
	default:
		return nil
	}
}

func (s *SMACrossover) enter(ctx *Context, bar types.Bar) error {
	cash := ctx.Account.Cash()
	if cash <= 0 {
		return nil
	}

	quantity := cash * s.config.CashFraction / bar.Close
	if quantity <= 0 {
		return nil
	}

	ctx.Log.Info("Golden cross, entering long",
		zap.String("symbol", bar.Symbol),
		zap.Float64("close", bar.Close),
		zap.Float64("quantity", quantity),
	)

	_, err := ctx.Orders.Submit(ctx.Ctx, types.OrderRequest{
		Symbol:       bar.Symbol,
		Side:         types.SideBuy,
		Type:         types.OrderTypeMarket,
		Quantity:     quantity,
		Reason:       types.Reason{Reason: types.OrderReasonStrategy, Message: "golden cross"},
		StrategyName: s.Name(),
	})

	return err
}

func (s *SMACrossover) exit(ctx *Context, bar types.Bar, quantity float64) error {
	ctx.Log.Info("Death cross, closing long",
		zap.String("symbol", bar.Symbol),
		zap.Float64("close", bar.Close),
		zap.Float64("quantity", quantity),
	)

	_, err := ctx.Orders.Submit(ctx.Ctx, types.OrderRequest{
		Symbol:       bar.Symbol,
		Side:         types.SideSell,
		Type:         types.OrderTypeMarket,
		Quantity:     quantity,
		Reason:       types.Reason{Reason: types.OrderReasonStrategy, Message: "death cross"},
		StrategyName: s.Name(),
	})

	return err
}

func (s *SMACrossover) OnOrderUpdate(order types.Order) {}

func (s *SMACrossover) OnTradeClosed(trade types.Trade) {}

// sma averages the last period entries of the window.
func sma(window []float64, period int) float64 {
	sum := 0.0
	for _, close := range window[len(window)-period:] {
		sum += close
	}

	return sum / float64(period)
}
