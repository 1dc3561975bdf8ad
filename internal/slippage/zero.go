package slippage

import "github.com/meridian-lab/meridian-trading/internal/types"

// ZeroSlippage fills at the reference price unchanged.
type ZeroSlippage struct{}

func NewZeroSlippage() *ZeroSlippage {
	return &ZeroSlippage{}
}

func (s *ZeroSlippage) Adjust(price float64, side types.Side) float64 {
	return price
}
