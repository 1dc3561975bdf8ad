// Package marketdata fetches historical bars from external providers and
// streams live candles. Providers yield the same types.Bar the backtest
// sources replay, so downloaded data feeds straight into the engine.
package marketdata

import (
	"context"
	"iter"
	"time"

	"github.com/polygon-io/client-go/rest/models"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Interval is the bar aggregation period.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
)

// HistoryProvider fetches historical bars for one symbol, yielding them in
// time order.
type HistoryProvider interface {
	GetBars(ctx context.Context, symbol string, start, end time.Time, interval Interval) iter.Seq2[types.Bar, error]
}

// ProviderName selects a history provider implementation.
type ProviderName string

const (
	ProviderPolygon ProviderName = "polygon"
	ProviderBinance ProviderName = "binance"
)

// NewProvider builds the named provider. Polygon requires an API key; Binance
// kline history is public.
func NewProvider(name ProviderName, apiKey string) (HistoryProvider, error) {
	switch name {
	case ProviderPolygon:
		return NewPolygonProvider(apiKey)
	case ProviderBinance:
		return NewBinanceProvider(), nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidProvider, "unknown provider %s", name)
	}
}

// Duration returns the bar period.
func (i Interval) Duration() (time.Duration, error) {
	switch i {
	case Interval1m:
		return time.Minute, nil
	case Interval5m:
		return 5 * time.Minute, nil
	case Interval15m:
		return 15 * time.Minute, nil
	case Interval1h:
		return time.Hour, nil
	case Interval1d:
		return 24 * time.Hour, nil
	default:
		return 0, errors.Newf(errors.ErrCodeInvalidInterval, "unknown interval %s", i)
	}
}

// polygon returns the multiplier and timespan for the aggregates API.
func (i Interval) polygon() (int, models.Timespan, error) {
	switch i {
	case Interval1m:
		return 1, models.Minute, nil
	case Interval5m:
		return 5, models.Minute, nil
	case Interval15m:
		return 15, models.Minute, nil
	case Interval1h:
		return 1, models.Hour, nil
	case Interval1d:
		return 1, models.Day, nil
	default:
		return 0, "", errors.Newf(errors.ErrCodeInvalidInterval, "unknown interval %s", i)
	}
}

// binance returns the kline interval string.
func (i Interval) binance() (string, error) {
	switch i {
	case Interval1m, Interval5m, Interval15m, Interval1h, Interval1d:
		return string(i), nil
	default:
		return "", errors.Newf(errors.ErrCodeInvalidInterval, "unknown interval %s", i)
	}
}
