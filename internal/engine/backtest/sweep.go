package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/datasource"
	"github.com/meridian-lab/meridian-trading/internal/engine"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// SweepPoint is the outcome of one parameter combination.
type SweepPoint struct {
	FastPeriod int                    `yaml:"fast_period"`
	SlowPeriod int                    `yaml:"slow_period"`
	Stats      types.PerformanceStats `yaml:"stats"`
}

// SweepResult collects every evaluated combination and the recommended one.
type SweepResult struct {
	Points []SweepPoint `yaml:"points"`
	Best   SweepPoint   `yaml:"best"`
}

// SweepSMA backtests the moving-average crossover over every fast/slow
// combination against the same bars and recommends parameters. Combinations
// where the fast period does not undercut the slow one are skipped. Each
// point runs against a fresh in-memory store so runs stay independent.
func SweepSMA(ctx context.Context, config engine.Config, bars []types.Bar, fastPeriods, slowPeriods []int, log *logger.Logger) (SweepResult, error) {
	var points []SweepPoint

	for _, fast := range fastPeriods {
		for _, slow := range slowPeriods {
			if fast >= slow {
				continue
			}

			if ctx.Err() != nil {
				return SweepResult{}, ctx.Err()
			}

			runConfig := config
			runConfig.StorePath = ""
			runConfig.ExportDir = ""
			runConfig.Strategy = engine.StrategyConfig{
				Name:   "sma_crossover",
				Config: fmt.Sprintf("fast_period: %d\nslow_period: %d", fast, slow),
			}

			stats, err := runSweepPoint(ctx, runConfig, bars, log)
			if err != nil {
				return SweepResult{}, err
			}

			points = append(points, SweepPoint{FastPeriod: fast, SlowPeriod: slow, Stats: stats})

			log.Info("Sweep point complete",
				zap.Int("fast_period", fast),
				zap.Int("slow_period", slow),
				zap.Float64("total_return", stats.TotalReturn),
				zap.Int("trades", stats.NumberOfTrades),
			)
		}
	}

	best, err := bestPoint(points)
	if err != nil {
		return SweepResult{}, err
	}

	return SweepResult{Points: points, Best: best}, nil
}

func runSweepPoint(ctx context.Context, config engine.Config, bars []types.Bar, log *logger.Logger) (types.PerformanceStats, error) {
	eng, err := New(config, log)
	if err != nil {
		return types.PerformanceStats{}, err
	}
	defer eng.Close()

	result, err := eng.Run(ctx, datasource.NewMemorySource(bars), optional.None[time.Time](), optional.None[time.Time]())
	if err != nil {
		return types.PerformanceStats{}, err
	}

	return result.Stats, nil
}

// bestPoint prefers the highest risk-adjusted return among profitable
// combinations, falling back to the highest total return when nothing was
// profitable. Combinations that never traded are not candidates.
func bestPoint(points []SweepPoint) (SweepPoint, error) {
	var best SweepPoint

	found := false
	for _, point := range points {
		if point.Stats.NumberOfTrades == 0 || point.Stats.TotalReturn <= 0 {
			continue
		}

		if !found || point.Stats.RiskAdjustedReturn > best.Stats.RiskAdjustedReturn {
			best = point
			found = true
		}
	}

	if found {
		return best, nil
	}

	for _, point := range points {
		if point.Stats.NumberOfTrades == 0 {
			continue
		}

		if !found || point.Stats.TotalReturn > best.Stats.TotalReturn {
			best = point
			found = true
		}
	}

	if !found {
		return SweepPoint{}, errors.New(errors.ErrCodeEngineNoData, "no parameter combination produced a trade")
	}

	return best, nil
}
