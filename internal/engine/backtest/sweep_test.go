package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

func TestSweepSMAEvaluatesValidCombinations(t *testing.T) {
	closes := []float64{100, 95, 90, 95, 105, 115, 110, 100, 90, 95, 105, 115, 120, 110, 95}
	bars := barsFromCloses("AAPL", closes...)

	config := testConfig()
	config.AnnualizationFactor = 252

	result, err := SweepSMA(context.Background(), config, bars, []int{2, 3}, []int{3, 4}, logger.NewNopLogger())
	require.NoError(t, err)

	// (2,3), (2,4) and (3,4); 3/3 is skipped because fast must undercut slow.
	require.Len(t, result.Points, 3)

	for _, point := range result.Points {
		assert.Less(t, point.FastPeriod, point.SlowPeriod)
	}

	assert.Greater(t, result.Best.Stats.NumberOfTrades, 0, "the recommendation must have traded")
	assert.Contains(t, result.Points, result.Best)
}

func TestSweepSMAIsDeterministic(t *testing.T) {
	closes := []float64{100, 95, 90, 95, 105, 115, 110, 100, 90, 95, 105, 115, 120, 110, 95}
	bars := barsFromCloses("AAPL", closes...)

	config := testConfig()
	config.AnnualizationFactor = 252

	first, err := SweepSMA(context.Background(), config, bars, []int{2}, []int{3}, logger.NewNopLogger())
	require.NoError(t, err)

	second, err := SweepSMA(context.Background(), config, bars, []int{2}, []int{3}, logger.NewNopLogger())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSweepSMARejectsEmptyGrid(t *testing.T) {
	bars := barsFromCloses("AAPL", 100, 101, 102)

	_, err := SweepSMA(context.Background(), testConfig(), bars, []int{3}, []int{3}, logger.NewNopLogger())
	assert.Equal(t, errors.ErrCodeEngineNoData, errors.GetCode(err))
}
