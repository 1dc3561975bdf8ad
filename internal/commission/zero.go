package commission

// ZeroFee implements Fee with zero commission.
type ZeroFee struct{}

// NewZeroFee creates a new zero commission fee.
func NewZeroFee() *ZeroFee {
	return &ZeroFee{}
}

// Calculate returns 0 for any execution.
func (f *ZeroFee) Calculate(quantity float64, price float64) float64 {
	return 0.0
}
