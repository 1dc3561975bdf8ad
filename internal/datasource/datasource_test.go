package datasource

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
)

func testBars() []types.Bar {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	bars := make([]types.Bar, 0, 6)

	for i := 0; i < 3; i++ {
		at := start.Add(time.Duration(i) * time.Minute)
		bars = append(bars,
			types.Bar{Symbol: "AAPL", Time: at, Open: 100 + float64(i), High: 101 + float64(i), Low: 99 + float64(i), Close: 100.5 + float64(i), Volume: 1000},
			types.Bar{Symbol: "GOOG", Time: at, Open: 200 + float64(i), High: 201 + float64(i), Low: 199 + float64(i), Close: 200.5 + float64(i), Volume: 500},
		)
	}

	return bars
}

func TestMemorySourceOrdersByTime(t *testing.T) {
	bars := testBars()
	// Shuffle the input; the source must still replay in time order.
	bars[0], bars[5] = bars[5], bars[0]

	source := NewMemorySource(bars)

	var previous time.Time

	count := 0
	for bar, err := range source.ReadAll(optional.None[time.Time](), optional.None[time.Time]()) {
		require.NoError(t, err)
		assert.False(t, bar.Time.Before(previous), "bars must be in non-decreasing time order")
		previous = bar.Time
		count++
	}

	assert.Equal(t, 6, count)
}

func TestMemorySourceRangeFilter(t *testing.T) {
	source := NewMemorySource(testBars())
	start := time.Date(2024, 1, 2, 9, 31, 0, 0, time.UTC)

	count, err := source.Count(optional.Some(start), optional.None[time.Time]())
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	for bar, err := range source.ReadAll(optional.Some(start), optional.None[time.Time]()) {
		require.NoError(t, err)
		assert.False(t, bar.Time.Before(start))
	}
}

func TestMemorySourceSymbols(t *testing.T) {
	source := NewMemorySource(testBars())

	symbols, err := source.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "GOOG"}, symbols)
}

func TestMemorySourceEarlyStop(t *testing.T) {
	source := NewMemorySource(testBars())

	count := 0
	for _, err := range source.ReadAll(optional.None[time.Time](), optional.None[time.Time]()) {
		require.NoError(t, err)

		count++
		if count == 2 {
			break
		}
	}

	assert.Equal(t, 2, count)
}

func writeCSV(t *testing.T, bars []types.Bar) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bars.csv")
	file, err := os.Create(path)
	require.NoError(t, err)

	defer file.Close()

	_, err = file.WriteString("time,symbol,open,high,low,close,volume\n")
	require.NoError(t, err)

	for _, bar := range bars {
		_, err = fmt.Fprintf(file, "%s,%s,%f,%f,%f,%f,%f\n",
			bar.Time.Format(time.RFC3339), bar.Symbol, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
		require.NoError(t, err)
	}

	return path
}

func TestDuckDBSourceReadsCSV(t *testing.T) {
	path := writeCSV(t, testBars())

	source, err := NewDuckDBSource(path, logger.NewNopLogger())
	require.NoError(t, err)

	defer source.Close()

	count, err := source.Count(optional.None[time.Time](), optional.None[time.Time]())
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	symbols, err := source.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "GOOG"}, symbols)

	var previous time.Time

	read := 0
	for bar, err := range source.ReadAll(optional.None[time.Time](), optional.None[time.Time]()) {
		require.NoError(t, err)
		require.NoError(t, bar.Validate())
		assert.False(t, bar.Time.Before(previous))
		previous = bar.Time
		read++
	}

	assert.Equal(t, 6, read)
}

func TestDuckDBSourceRejectsUnknownExtension(t *testing.T) {
	_, err := NewDuckDBSource("data.txt", logger.NewNopLogger())
	assert.Error(t, err)
}
