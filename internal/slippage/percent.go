package slippage

import (
	"github.com/shopspring/decimal"

	"github.com/meridian-lab/meridian-trading/internal/types"
)

// PercentSlippage moves the price by a fixed fraction of itself, e.g. 0.0005
// for 5 basis points.
type PercentSlippage struct {
	rate decimal.Decimal
}

func NewPercentSlippage(rate float64) *PercentSlippage {
	return &PercentSlippage{rate: decimal.NewFromFloat(rate)}
}

func (s *PercentSlippage) Adjust(price float64, side types.Side) float64 {
	p := decimal.NewFromFloat(price)
	offset := p.Mul(s.rate)

	var adjusted decimal.Decimal
	if side == types.SideBuy {
		adjusted = p.Add(offset)
	} else {
		adjusted = p.Sub(offset)
	}

	result, _ := adjusted.Float64()

	return result
}
