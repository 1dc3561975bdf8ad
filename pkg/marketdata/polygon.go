package marketdata

import (
	"context"
	"iter"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// PolygonProvider fetches aggregates from the Polygon REST API.
type PolygonProvider struct {
	client *polygon.Client
}

var _ HistoryProvider = (*PolygonProvider)(nil)

func NewPolygonProvider(apiKey string) (*PolygonProvider, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "polygon api key is required")
	}

	return &PolygonProvider{client: polygon.New(apiKey)}, nil
}

func (p *PolygonProvider) GetBars(ctx context.Context, symbol string, start, end time.Time, interval Interval) iter.Seq2[types.Bar, error] {
	return func(yield func(types.Bar, error) bool) {
		multiplier, timespan, err := interval.polygon()
		if err != nil {
			yield(types.Bar{}, err)

			return
		}

		//nolint:exhaustruct // third-party struct with many optional fields
		params := models.ListAggsParams{
			Ticker:     symbol,
			Multiplier: multiplier,
			Timespan:   timespan,
			From:       models.Millis(start),
			To:         models.Millis(end),
		}.WithLimit(50000)

		aggs := p.client.ListAggs(ctx, params)

		for aggs.Next() {
			agg := aggs.Item()

			bar := types.Bar{
				Symbol: symbol,
				Time:   time.Time(agg.Timestamp),
				Open:   agg.Open,
				High:   agg.High,
				Low:    agg.Low,
				Close:  agg.Close,
				Volume: agg.Volume,
			}

			if !yield(bar, nil) {
				return
			}
		}

		if aggs.Err() != nil {
			yield(types.Bar{}, errors.Wrapf(errors.ErrCodeMarketDataFetchFailed, aggs.Err(), "polygon aggregates failed for %s", symbol))
		}
	}
}
