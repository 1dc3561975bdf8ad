package commission

// Fee computes the commission for an execution.
type Fee interface {
	// Calculate returns the commission in account currency for a fill of the
	// given quantity at the given price.
	Calculate(quantity float64, price float64) float64
}

type Model string

const (
	ModelRate              Model = "rate"
	ModelInteractiveBroker Model = "interactive_broker"
	ModelZero              Model = "zero"
)

// ForModel returns the fee handler for a configured model name. Unknown models
// fall back to zero commission.
func ForModel(model Model, rate float64) Fee {
	switch model {
	case ModelRate:
		return NewRateFee(rate)
	case ModelInteractiveBroker:
		return NewInteractiveBrokerFee()
	case ModelZero:
		return NewZeroFee()
	default:
		return NewZeroFee()
	}
}
