package commission

// InteractiveBrokerFee charges per share with a minimum per order.
type InteractiveBrokerFee struct{}

func NewInteractiveBrokerFee() *InteractiveBrokerFee {
	return &InteractiveBrokerFee{}
}

func (f *InteractiveBrokerFee) Calculate(quantity float64, price float64) float64 {
	fee := 0.005 * quantity
	if fee < 1.0 {
		return 1.0
	}

	return fee
}
