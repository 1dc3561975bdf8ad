package commission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateFee(t *testing.T) {
	fee := NewRateFee(0.001)

	// 100 shares at 100.50 => notional 10050, fee 10.05
	assert.InDelta(t, 10.05, fee.Calculate(100, 100.50), 1e-9)
	assert.Equal(t, 0.0, fee.Calculate(0, 100))
}

func TestInteractiveBrokerFee(t *testing.T) {
	fee := NewInteractiveBrokerFee()

	// Minimum of $1 applies for small orders.
	assert.Equal(t, 1.0, fee.Calculate(100, 50))
	// 0.005/share above the minimum.
	assert.InDelta(t, 2.5, fee.Calculate(500, 50), 1e-9)
}

func TestZeroFee(t *testing.T) {
	fee := NewZeroFee()
	assert.Equal(t, 0.0, fee.Calculate(1000, 99.99))
}

func TestForModel(t *testing.T) {
	assert.IsType(t, &RateFee{}, ForModel(ModelRate, 0.001))
	assert.IsType(t, &InteractiveBrokerFee{}, ForModel(ModelInteractiveBroker, 0))
	assert.IsType(t, &ZeroFee{}, ForModel(ModelZero, 0))
	assert.IsType(t, &ZeroFee{}, ForModel("bogus", 0))
}
