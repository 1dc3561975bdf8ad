package perf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/meridian-trading/internal/types"
)

func trade(netPnL float64, hold time.Duration) types.Trade {
	entry := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	return types.Trade{
		Symbol:    "AAPL",
		Direction: types.DirectionLong,
		Quantity:  100,
		EntryTime: entry,
		ExitTime:  entry.Add(hold),
		GrossPnL:  netPnL + 1,
		Commission: 1,
		NetPnL:    netPnL,
	}
}

func equityCurve(values ...float64) []types.EquityPoint {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	points := make([]types.EquityPoint, len(values))

	for i, v := range values {
		points[i] = types.EquityPoint{Time: start.AddDate(0, 0, i), Equity: v}
	}

	return points
}

func TestEmptyAggregatorProducesZeroStats(t *testing.T) {
	stats := NewAggregator(Config{}).Stats()

	assert.Equal(t, 0, stats.NumberOfTrades)
	assert.Equal(t, 0.0, stats.TotalReturn)
	assert.Equal(t, 0.0, stats.MaxDrawdown)
}

func TestTotalReturnAndDrawdown(t *testing.T) {
	agg := NewAggregator(Config{})
	for _, point := range equityCurve(100000, 110000, 99000, 104500, 121000) {
		agg.AddEquity(point)
	}

	stats := agg.Stats()

	assert.Equal(t, 100000.0, stats.InitialEquity)
	assert.Equal(t, 121000.0, stats.FinalEquity)
	assert.InDelta(t, 0.21, stats.TotalReturn, 1e-9)
	// Peak 110000 to trough 99000 is a 10% drawdown.
	assert.InDelta(t, 0.10, stats.MaxDrawdown, 1e-9)
}

func TestWinLossBreakdown(t *testing.T) {
	agg := NewAggregator(Config{})
	agg.AddTrade(trade(500, time.Hour))
	agg.AddTrade(trade(300, 2*time.Hour))
	agg.AddTrade(trade(-200, 30*time.Minute))
	agg.AddTrade(trade(-100, 3*time.Hour))

	stats := agg.Stats()

	assert.Equal(t, 4, stats.NumberOfTrades)
	assert.Equal(t, 2, stats.NumberOfWinningTrades)
	assert.Equal(t, 2, stats.NumberOfLosingTrades)
	assert.InDelta(t, 0.5, stats.WinRate, 1e-9)
	assert.InDelta(t, 400.0, stats.AverageWin, 1e-9)
	assert.InDelta(t, -150.0, stats.AverageLoss, 1e-9)
	assert.InDelta(t, 504.0, stats.RealizedPnL, 1e-9, "gross sums net plus commission per trade")
	assert.InDelta(t, 4.0, stats.TotalFees, 1e-9)
}

func TestHoldingTimes(t *testing.T) {
	agg := NewAggregator(Config{})
	agg.AddTrade(trade(100, 1*time.Hour))
	agg.AddTrade(trade(100, 3*time.Hour))

	stats := agg.Stats()

	assert.Equal(t, 3600, stats.TradeHoldingTime.Min)
	assert.Equal(t, 10800, stats.TradeHoldingTime.Max)
	assert.Equal(t, 7200, stats.TradeHoldingTime.Avg)
}

func TestRiskAdjustedReturnIsZeroForFlatCurve(t *testing.T) {
	agg := NewAggregator(Config{})
	for _, point := range equityCurve(100000, 100000, 100000, 100000) {
		agg.AddEquity(point)
	}

	assert.Equal(t, 0.0, agg.Stats().RiskAdjustedReturn)
}

func TestRiskAdjustedReturnPositiveForRisingCurve(t *testing.T) {
	agg := NewAggregator(Config{AnnualizationFactor: 252})
	for _, point := range equityCurve(100000, 101000, 101500, 103000, 103100) {
		agg.AddEquity(point)
	}

	assert.Greater(t, agg.Stats().RiskAdjustedReturn, 0.0)
}

func TestStatsAreDeterministic(t *testing.T) {
	build := func() types.PerformanceStats {
		agg := NewAggregator(Config{})

		for _, point := range equityCurve(100000, 98000, 103000, 101000, 105000) {
			agg.AddEquity(point)
		}

		agg.AddTrade(trade(2000, time.Hour))
		agg.AddTrade(trade(-700, 2*time.Hour))
		agg.AddTrade(trade(1500, 45*time.Minute))

		return agg.Stats()
	}

	first := build()
	second := build()
	require.Equal(t, first, second)
}
