package types

import "time"

// AccountSnapshot is a point-in-time view of the account. The simulated
// gateway derives it deterministically from fills and the commission model;
// the live gateway reports broker-provided values subject to reconciliation.
type AccountSnapshot struct {
	// Cash is the settled cash balance (excluding unrealized P&L).
	Cash float64 `yaml:"cash" json:"cash"`
	// Equity is cash plus the market value of open positions.
	Equity     float64   `yaml:"equity" json:"equity"`
	MarginUsed float64   `yaml:"margin_used" json:"margin_used"`
	Time       time.Time `yaml:"time" json:"time"`
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time   time.Time `yaml:"time" json:"time"`
	Equity float64   `yaml:"equity" json:"equity"`
}
