package types

import "time"

// Trade is a closed round-trip: entry fills plus exit fills netting a position
// back through zero (or reversing direction). Produced by the position ledger,
// consumed by the performance aggregator, immutable once emitted.
type Trade struct {
	Symbol    string            `yaml:"symbol" json:"symbol"`
	Direction PositionDirection `yaml:"direction" json:"direction"`
	// Quantity is the closed quantity, always positive.
	Quantity      float64   `yaml:"quantity" json:"quantity"`
	EntryTime     time.Time `yaml:"entry_time" json:"entry_time"`
	ExitTime      time.Time `yaml:"exit_time" json:"exit_time"`
	AvgEntryPrice float64   `yaml:"avg_entry_price" json:"avg_entry_price"`
	AvgExitPrice  float64   `yaml:"avg_exit_price" json:"avg_exit_price"`
	// GrossPnL excludes commission; NetPnL = GrossPnL - Commission.
	GrossPnL   float64 `yaml:"gross_pnl" json:"gross_pnl"`
	Commission float64 `yaml:"commission" json:"commission"`
	NetPnL     float64 `yaml:"net_pnl" json:"net_pnl"`
	StrategyName string `yaml:"strategy_name" json:"strategy_name"`
}

// Duration returns the holding time of the round-trip.
func (t Trade) Duration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}
