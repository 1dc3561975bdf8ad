package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents current holdings of an instrument. Owned exclusively by
// the position ledger and mutated only by applying fills in arrival order.
type Position struct {
	Symbol string `yaml:"symbol" json:"symbol"`
	// Quantity is signed: positive for long, negative for short.
	Quantity float64 `yaml:"quantity" json:"quantity"`
	// AvgCost is the weighted-average cost basis of the open quantity.
	AvgCost float64 `yaml:"avg_cost" json:"avg_cost"`
	// RealizedPnL accumulates profit and loss realized by reducing or
	// direction-crossing fills since the position record was created.
	RealizedPnL float64   `yaml:"realized_pnl" json:"realized_pnl"`
	OpenedAt    time.Time `yaml:"opened_at" json:"opened_at"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updated_at"`
}

// Direction returns the side of the position, or DirectionFlat at zero quantity.
func (p *Position) Direction() PositionDirection {
	switch {
	case p.Quantity > 0:
		return DirectionLong
	case p.Quantity < 0:
		return DirectionShort
	default:
		return DirectionFlat
	}
}

// UnrealizedPnL computes the mark-to-market profit of the open quantity
// against the given price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.Quantity == 0 {
		return 0
	}

	qty := decimal.NewFromFloat(p.Quantity)
	diff := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.AvgCost))
	result, _ := qty.Mul(diff).Float64()

	return result
}

// MarketValue returns the signed notional value of the position at the given price.
func (p *Position) MarketValue(price float64) float64 {
	result, _ := decimal.NewFromFloat(p.Quantity).Mul(decimal.NewFromFloat(price)).Float64()

	return result
}
