package slippage

import "github.com/meridian-lab/meridian-trading/internal/types"

// Model adjusts a reference price to the price a simulated fill executes at.
// Buys slip up, sells slip down.
type Model interface {
	Adjust(price float64, side types.Side) float64
}

type Kind string

const (
	KindPercent Kind = "percent"
	KindZero    Kind = "zero"
)

// ForKind returns the slippage model for a configured kind. Unknown kinds fall
// back to zero slippage.
func ForKind(kind Kind, rate float64) Model {
	switch kind {
	case KindPercent:
		return NewPercentSlippage(rate)
	case KindZero:
		return NewZeroSlippage()
	default:
		return NewZeroSlippage()
	}
}
