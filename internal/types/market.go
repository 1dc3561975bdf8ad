package types

import (
	"time"

	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Bar is one OHLCV candle for a symbol.
type Bar struct {
	Symbol string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Time   time.Time `yaml:"time" json:"time" csv:"time"`
	Open   float64   `yaml:"open" json:"open" csv:"open"`
	High   float64   `yaml:"high" json:"high" csv:"high"`
	Low    float64   `yaml:"low" json:"low" csv:"low"`
	Close  float64   `yaml:"close" json:"close" csv:"close"`
	Volume float64   `yaml:"volume" json:"volume" csv:"volume"`
}

// Validate checks the bar for internal consistency. Backtests fail fast on
// malformed historical data instead of masking partial results.
func (b *Bar) Validate() error {
	if b.Symbol == "" {
		return errors.New(errors.ErrCodeMalformedBar, "bar has no symbol")
	}

	if b.Time.IsZero() {
		return errors.Newf(errors.ErrCodeMalformedBar, "bar for %s has zero timestamp", b.Symbol)
	}

	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return errors.Newf(errors.ErrCodeMalformedBar, "bar for %s at %s has non-positive price", b.Symbol, b.Time)
	}

	if b.High < b.Low {
		return errors.Newf(errors.ErrCodeMalformedBar, "bar for %s at %s has high below low", b.Symbol, b.Time)
	}

	return nil
}
