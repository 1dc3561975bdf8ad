package commission

import "github.com/shopspring/decimal"

// RateFee charges a flat rate times notional, e.g. 0.001 for 0.1%.
type RateFee struct {
	rate decimal.Decimal
}

func NewRateFee(rate float64) *RateFee {
	return &RateFee{rate: decimal.NewFromFloat(rate)}
}

func (f *RateFee) Calculate(quantity float64, price float64) float64 {
	notional := decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(price))
	fee, _ := notional.Mul(f.rate).Float64()

	return fee
}
