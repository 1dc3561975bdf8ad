package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TradeHoldingTime summarizes round-trip durations in seconds.
type TradeHoldingTime struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
	Avg int `yaml:"avg"`
}

// PerformanceStats is the summary produced by the performance aggregator from
// the trade stream and equity snapshots. Recomputing from the same inputs
// yields identical output.
type PerformanceStats struct {
	// InitialEquity and FinalEquity bracket the equity curve.
	InitialEquity float64 `yaml:"initial_equity"`
	FinalEquity   float64 `yaml:"final_equity"`
	// TotalReturn is (final - initial) / initial.
	TotalReturn float64 `yaml:"total_return"`
	// MaxDrawdown is the largest peak-to-trough decline on the equity curve,
	// expressed as a fraction of the peak.
	MaxDrawdown float64 `yaml:"max_drawdown"`

	NumberOfTrades        int     `yaml:"number_of_trades"`
	NumberOfWinningTrades int     `yaml:"number_of_winning_trades"`
	NumberOfLosingTrades  int     `yaml:"number_of_losing_trades"`
	WinRate               float64 `yaml:"win_rate"`
	AverageWin            float64 `yaml:"average_win"`
	AverageLoss           float64 `yaml:"average_loss"`

	// RiskAdjustedReturn is the mean per-period excess return over the return
	// volatility, scaled by the configured annualization factor.
	RiskAdjustedReturn float64 `yaml:"risk_adjusted_return"`

	RealizedPnL float64 `yaml:"realized_pnl"`
	TotalFees   float64 `yaml:"total_fees"`

	TradeHoldingTime TradeHoldingTime `yaml:"trade_holding_time"`
}

// RunReport is the top-level result record written after a backtest or a live
// trading session.
type RunReport struct {
	// ID is the unique identifier for this run.
	ID string `yaml:"id" json:"id"`
	// Timestamp is when this run was executed.
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	// Symbols traded in this run.
	Symbols []string `yaml:"symbols" json:"symbols"`
	// StrategyName is the name of the strategy driving the run.
	StrategyName string `yaml:"strategy_name" json:"strategy_name"`
	// Stats is the aggregated performance summary.
	Stats PerformanceStats `yaml:"stats" json:"stats"`
	// DataPath is the market data input used, when file-backed.
	DataPath string `yaml:"data_path,omitempty" json:"data_path,omitempty"`
	// ResultsPath is the directory holding exported orders/trades, if any.
	ResultsPath string `yaml:"results_path,omitempty" json:"results_path,omitempty"`
}

// WriteRunReport writes the report as YAML to the given path.
func WriteRunReport(path string, report RunReport) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run report to file: %w", err)
	}

	return nil
}
