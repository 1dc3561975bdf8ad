// Package engine holds the configuration and wiring shared by the backtest
// and live engines. Both drive the same order manager, ledger and strategy
// contract; only the gateway and the event loop differ.
package engine

import (
	"os"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/meridian-lab/meridian-trading/internal/commission"
	"github.com/meridian-lab/meridian-trading/internal/gateway/sim"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/order"
	"github.com/meridian-lab/meridian-trading/internal/perf"
	"github.com/meridian-lab/meridian-trading/internal/slippage"
	"github.com/meridian-lab/meridian-trading/internal/store"
	"github.com/meridian-lab/meridian-trading/internal/strategy"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// CommissionConfig selects the fee model applied to simulated fills.
type CommissionConfig struct {
	Model commission.Model `yaml:"model"`
	Rate  float64          `yaml:"rate"`
}

// SlippageConfig selects the price adjustment applied to simulated market
// fills.
type SlippageConfig struct {
	Kind slippage.Kind `yaml:"kind"`
	Rate float64       `yaml:"rate"`
}

// StrategyConfig names the strategy and carries its raw YAML block, which the
// strategy parses itself in Initialize.
type StrategyConfig struct {
	Name   string `yaml:"name" validate:"required"`
	Config string `yaml:"config"`
}

// Config is the engine configuration shared by backtest and live runs.
type Config struct {
	Symbols     []string `yaml:"symbols" validate:"required,min=1"`
	InitialCash float64  `yaml:"initial_cash" validate:"required,gt=0"`

	Commission       CommissionConfig     `yaml:"commission"`
	Slippage         SlippageConfig       `yaml:"slippage"`
	FillPolicy       sim.FillPolicy       `yaml:"fill_policy"`
	LimitTouchPolicy sim.LimitTouchPolicy `yaml:"limit_touch_policy"`

	AnnualizationFactor float64 `yaml:"annualization_factor"`

	Strategy StrategyConfig `yaml:"strategy"`

	// StorePath is the DuckDB file for run results; empty means in-memory.
	StorePath string `yaml:"store_path"`
	// ExportDir receives parquet exports after a run; empty disables export.
	ExportDir string `yaml:"export_dir"`
}

// Validate checks the resolved configuration. Enum fields accept the empty
// string, which selects the default; anything else unknown is rejected here
// rather than silently degraded downstream.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeEngineConfig, "invalid engine config", err)
	}

	switch c.Commission.Model {
	case "", commission.ModelRate, commission.ModelInteractiveBroker, commission.ModelZero:
	default:
		return errors.Newf(errors.ErrCodeEngineConfig, "unknown commission model %q", c.Commission.Model)
	}

	switch c.Slippage.Kind {
	case "", slippage.KindPercent, slippage.KindZero:
	default:
		return errors.Newf(errors.ErrCodeEngineConfig, "unknown slippage kind %q", c.Slippage.Kind)
	}

	switch c.FillPolicy {
	case "", sim.FillPolicyNextOpen, sim.FillPolicySameClose:
	default:
		return errors.Newf(errors.ErrCodeEngineConfig, "unknown fill policy %q", c.FillPolicy)
	}

	switch c.LimitTouchPolicy {
	case "", sim.TouchPolicyFillOnTouch, sim.TouchPolicyRequireCross:
	default:
		return errors.Newf(errors.ErrCodeEngineConfig, "unknown limit touch policy %q", c.LimitTouchPolicy)
	}

	return nil
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeEngineConfig, "failed to read config file", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses and validates YAML config bytes.
func ParseConfig(data []byte) (Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeEngineConfig, "failed to parse config file", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// BuildStrategy constructs and initializes the configured strategy.
func BuildStrategy(config StrategyConfig) (strategy.Strategy, error) {
	var s strategy.Strategy

	switch config.Name {
	case "sma_crossover":
		s = strategy.NewSMACrossover()
	default:
		return nil, errors.Newf(errors.ErrCodeEngineNoStrategy, "unknown strategy %s", config.Name)
	}

	if err := s.Initialize(config.Config); err != nil {
		return nil, err
	}

	return s, nil
}

// Recorder fans order manager callbacks out to the strategy, the result store
// and the performance aggregator. Store failures are logged and do not stop
// the run.
type Recorder struct {
	log      *logger.Logger
	strategy strategy.Strategy
	store    *store.Store
	perf     *perf.Aggregator
}

var _ order.Listener = (*Recorder)(nil)

func NewRecorder(s strategy.Strategy, st *store.Store, aggregator *perf.Aggregator, log *logger.Logger) *Recorder {
	return &Recorder{
		log:      log,
		strategy: s,
		store:    st,
		perf:     aggregator,
	}
}

func (r *Recorder) OnOrderUpdate(order types.Order) {
	if err := r.store.RecordOrder(order); err != nil {
		r.log.Error("Failed to persist order update",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}

	r.strategy.OnOrderUpdate(order)
}

func (r *Recorder) OnTradeClosed(trade types.Trade) {
	r.perf.AddTrade(trade)

	if err := r.store.RecordTrade(trade); err != nil {
		r.log.Error("Failed to persist closed trade",
			zap.String("symbol", trade.Symbol),
			zap.Error(err),
		)
	}

	r.strategy.OnTradeClosed(trade)
}

// RecordFill persists a fill from the gateway event stream.
func (r *Recorder) RecordFill(fill types.Fill) {
	if err := r.store.RecordFill(fill); err != nil {
		r.log.Error("Failed to persist fill",
			zap.String("exec_id", fill.ExecID),
			zap.Error(err),
		)
	}
}

// RecordEquity samples the equity curve into the aggregator and the store.
func (r *Recorder) RecordEquity(point types.EquityPoint) {
	r.perf.AddEquity(point)

	if err := r.store.RecordEquity(point); err != nil {
		r.log.Error("Failed to persist equity point", zap.Error(err))
	}
}
