package marketdata

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

var csvHeader = []string{"time", "symbol", "open", "high", "low", "close", "volume"}

// DownloadCSV streams bars from the provider into a CSV file that the backtest
// data sources can read directly. Returns the number of bars written.
func DownloadCSV(ctx context.Context, provider HistoryProvider, symbol string, start, end time.Time, interval Interval, path string) (count int, err error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to create output file", err)
	}

	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to close output file", cerr)
		}
	}()

	writer := csv.NewWriter(file)

	if err := writer.Write(csvHeader); err != nil {
		return 0, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to write header", err)
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Downloading "+symbol),
		progressbar.OptionShowCount(),
	)

	for b, iterErr := range provider.GetBars(ctx, symbol, start, end, interval) {
		if iterErr != nil {
			return count, iterErr
		}

		record := []string{
			b.Time.UTC().Format(time.RFC3339),
			b.Symbol,
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		}

		if err := writer.Write(record); err != nil {
			return count, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to write bar", err)
		}

		count++
		bar.Add(1)
	}

	bar.Finish()
	writer.Flush()

	if err := writer.Error(); err != nil {
		return count, errors.Wrap(errors.ErrCodeMarketDataFetchFailed, "failed to flush output", err)
	}

	return count, nil
}
