package marketdata

import (
	"context"
	"iter"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// klinePageSize is the Binance API maximum per request; fewer rows in a
// response means the last page.
const klinePageSize = 500

// KlinesService is the slice of the Binance client the provider needs; the
// real client and test fakes both satisfy it.
type KlinesService interface {
	Symbol(symbol string) KlinesService
	Interval(interval string) KlinesService
	StartTime(startTime int64) KlinesService
	EndTime(endTime int64) KlinesService
	Limit(limit int) KlinesService
	Do(ctx context.Context) ([]*binance.Kline, error)
}

type realKlinesService struct {
	service *binance.KlinesService
}

func (s *realKlinesService) Symbol(symbol string) KlinesService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realKlinesService) Interval(interval string) KlinesService {
	s.service = s.service.Interval(interval)

	return s
}

func (s *realKlinesService) StartTime(startTime int64) KlinesService {
	s.service = s.service.StartTime(startTime)

	return s
}

func (s *realKlinesService) EndTime(endTime int64) KlinesService {
	s.service = s.service.EndTime(endTime)

	return s
}

func (s *realKlinesService) Limit(limit int) KlinesService {
	s.service = s.service.Limit(limit)

	return s
}

func (s *realKlinesService) Do(ctx context.Context) ([]*binance.Kline, error) {
	return s.service.Do(ctx)
}

// BinanceProvider fetches kline history, paginating past the per-request cap.
type BinanceProvider struct {
	newKlines func() KlinesService
}

var _ HistoryProvider = (*BinanceProvider)(nil)

func NewBinanceProvider() *BinanceProvider {
	client := binance.NewClient("", "")

	return &BinanceProvider{
		newKlines: func() KlinesService {
			return &realKlinesService{service: client.NewKlinesService()}
		},
	}
}

// newBinanceProviderWithService is the test seam.
func newBinanceProviderWithService(newKlines func() KlinesService) *BinanceProvider {
	return &BinanceProvider{newKlines: newKlines}
}

func (p *BinanceProvider) GetBars(ctx context.Context, symbol string, start, end time.Time, interval Interval) iter.Seq2[types.Bar, error] {
	return func(yield func(types.Bar, error) bool) {
		klineInterval, err := interval.binance()
		if err != nil {
			yield(types.Bar{}, err)

			return
		}

		currentStart := start.UnixMilli()
		endMillis := end.UnixMilli()

		for {
			klines, err := p.newKlines().
				Symbol(symbol).
				Interval(klineInterval).
				StartTime(currentStart).
				EndTime(endMillis).
				Limit(klinePageSize).
				Do(ctx)
			if err != nil {
				yield(types.Bar{}, errors.Wrapf(errors.ErrCodeMarketDataFetchFailed, err, "kline fetch failed for %s", symbol))

				return
			}

			for _, kline := range klines {
				bar, err := klineToBar(symbol, kline)
				if err != nil {
					yield(types.Bar{}, err)

					return
				}

				if !yield(bar, nil) {
					return
				}
			}

			if len(klines) < klinePageSize {
				return
			}

			// Resume just past the last candle to avoid duplicates.
			currentStart = klines[len(klines)-1].CloseTime + 1
			if currentStart >= endMillis {
				return
			}
		}
	}
}

func klineToBar(symbol string, kline *binance.Kline) (types.Bar, error) {
	open, err := strconv.ParseFloat(kline.Open, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "bad kline open", err)
	}

	high, err := strconv.ParseFloat(kline.High, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "bad kline high", err)
	}

	low, err := strconv.ParseFloat(kline.Low, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "bad kline low", err)
	}

	closePrice, err := strconv.ParseFloat(kline.Close, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "bad kline close", err)
	}

	volume, err := strconv.ParseFloat(kline.Volume, 64)
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "bad kline volume", err)
	}

	return types.Bar{
		Symbol: symbol,
		Time:   time.UnixMilli(kline.OpenTime),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, nil
}
