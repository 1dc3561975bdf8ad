// Package perf aggregates closed trades and equity snapshots into summary
// statistics. Stats are recomputed from the accumulated inputs on every call,
// so the same trade and equity streams always produce the same numbers.
package perf

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-lab/meridian-trading/internal/types"
)

// Config tunes the statistics, not what is collected.
type Config struct {
	// AnnualizationFactor scales the risk-adjusted return to a yearly figure.
	// 252 for daily equity samples, 252*390 for minute samples.
	AnnualizationFactor float64 `yaml:"annualization_factor"`
}

// Aggregator collects the trade stream and the equity curve. Safe for
// concurrent use; the live engine samples stats while the loop appends.
type Aggregator struct {
	config Config

	mu     sync.Mutex
	trades []types.Trade
	equity []types.EquityPoint
}

func NewAggregator(config Config) *Aggregator {
	if config.AnnualizationFactor == 0 {
		config.AnnualizationFactor = 252
	}

	return &Aggregator{config: config}
}

// AddTrade records one closed round-trip.
func (a *Aggregator) AddTrade(trade types.Trade) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.trades = append(a.trades, trade)
}

// AddEquity records one equity curve sample. Samples must arrive in time order.
func (a *Aggregator) AddEquity(point types.EquityPoint) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.equity = append(a.equity, point)
}

// Trades returns the collected trade stream.
func (a *Aggregator) Trades() []types.Trade {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]types.Trade, len(a.trades))
	copy(out, a.trades)

	return out
}

// EquityCurve returns the collected equity samples.
func (a *Aggregator) EquityCurve() []types.EquityPoint {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]types.EquityPoint, len(a.equity))
	copy(out, a.equity)

	return out
}

// Stats computes the full summary from everything collected so far.
func (a *Aggregator) Stats() types.PerformanceStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := types.PerformanceStats{}

	a.computeEquityStats(&stats)
	a.computeTradeStats(&stats)

	return stats
}

func (a *Aggregator) computeEquityStats(stats *types.PerformanceStats) {
	if len(a.equity) == 0 {
		return
	}

	stats.InitialEquity = a.equity[0].Equity
	stats.FinalEquity = a.equity[len(a.equity)-1].Equity

	if stats.InitialEquity != 0 {
		stats.TotalReturn = (stats.FinalEquity - stats.InitialEquity) / stats.InitialEquity
	}

	stats.MaxDrawdown = maxDrawdown(a.equity)
	stats.RiskAdjustedReturn = riskAdjustedReturn(a.equity, a.config.AnnualizationFactor)
}

func (a *Aggregator) computeTradeStats(stats *types.PerformanceStats) {
	stats.NumberOfTrades = len(a.trades)

	if len(a.trades) == 0 {
		return
	}

	var winSum, lossSum, realized, fees decimal.Decimal

	var minHold, maxHold, totalHold time.Duration

	firstTrade := true

	for _, trade := range a.trades {
		net := decimal.NewFromFloat(trade.NetPnL)
		realized = realized.Add(decimal.NewFromFloat(trade.GrossPnL))
		fees = fees.Add(decimal.NewFromFloat(trade.Commission))

		if trade.NetPnL > 0 {
			stats.NumberOfWinningTrades++

			winSum = winSum.Add(net)
		} else {
			stats.NumberOfLosingTrades++

			lossSum = lossSum.Add(net)
		}

		hold := trade.Duration()
		totalHold += hold

		if firstTrade || hold < minHold {
			minHold = hold
		}

		if firstTrade || hold > maxHold {
			maxHold = hold
		}

		firstTrade = false
	}

	stats.WinRate = float64(stats.NumberOfWinningTrades) / float64(stats.NumberOfTrades)

	if stats.NumberOfWinningTrades > 0 {
		avg, _ := winSum.Div(decimal.NewFromInt(int64(stats.NumberOfWinningTrades))).Float64()
		stats.AverageWin = avg
	}

	if stats.NumberOfLosingTrades > 0 {
		avg, _ := lossSum.Div(decimal.NewFromInt(int64(stats.NumberOfLosingTrades))).Float64()
		stats.AverageLoss = avg
	}

	stats.RealizedPnL, _ = realized.Float64()
	stats.TotalFees, _ = fees.Float64()

	stats.TradeHoldingTime = types.TradeHoldingTime{
		Min: int(minHold.Seconds()),
		Max: int(maxHold.Seconds()),
		Avg: int((totalHold / time.Duration(len(a.trades))).Seconds()),
	}
}

// maxDrawdown scans the equity curve once, tracking the running peak.
func maxDrawdown(equity []types.EquityPoint) float64 {
	peak := equity[0].Equity
	worst := 0.0

	for _, point := range equity {
		if point.Equity > peak {
			peak = point.Equity
		}

		if peak > 0 {
			if drawdown := (peak - point.Equity) / peak; drawdown > worst {
				worst = drawdown
			}
		}
	}

	return worst
}

// riskAdjustedReturn is the annualized mean-over-stddev of per-sample returns.
// Zero-volatility curves return zero rather than a division blowup.
func riskAdjustedReturn(equity []types.EquityPoint, annualization float64) float64 {
	if len(equity) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(equity)-1)

	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev == 0 {
			continue
		}

		returns = append(returns, (equity[i].Equity-prev)/prev)
	}

	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}

	return mean / stddev * math.Sqrt(annualization)
}
