// Package datasource provides the bar streams that drive backtests. Sources
// yield bars in non-decreasing time order; the engine replays them against the
// simulated gateway.
package datasource

import (
	"iter"
	"sort"
	"time"

	"github.com/moznion/go-optional"

	"github.com/meridian-lab/meridian-trading/internal/types"
)

// BarSource is a replayable stream of historical bars.
type BarSource interface {
	// ReadAll yields bars ordered by time, optionally bounded by [start, end].
	ReadAll(start, end optional.Option[time.Time]) iter.Seq2[types.Bar, error]
	// Count returns the number of bars in the optional range.
	Count(start, end optional.Option[time.Time]) (int, error)
	// Symbols returns the distinct symbols present in the source.
	Symbols() ([]string, error)
	Close() error
}

// MemorySource replays a fixed slice of bars. Used in tests and for
// programmatically generated data.
type MemorySource struct {
	bars []types.Bar
}

var _ BarSource = (*MemorySource)(nil)

// NewMemorySource copies and time-sorts the given bars.
func NewMemorySource(bars []types.Bar) *MemorySource {
	sorted := make([]types.Bar, len(bars))
	copy(sorted, bars)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	return &MemorySource{bars: sorted}
}

func (s *MemorySource) ReadAll(start, end optional.Option[time.Time]) iter.Seq2[types.Bar, error] {
	return func(yield func(types.Bar, error) bool) {
		for _, bar := range s.bars {
			if !inRange(bar.Time, start, end) {
				continue
			}

			if !yield(bar, nil) {
				return
			}
		}
	}
}

func (s *MemorySource) Count(start, end optional.Option[time.Time]) (int, error) {
	count := 0

	for _, bar := range s.bars {
		if inRange(bar.Time, start, end) {
			count++
		}
	}

	return count, nil
}

func (s *MemorySource) Symbols() ([]string, error) {
	seen := make(map[string]struct{})

	var symbols []string

	for _, bar := range s.bars {
		if _, ok := seen[bar.Symbol]; !ok {
			seen[bar.Symbol] = struct{}{}

			symbols = append(symbols, bar.Symbol)
		}
	}

	sort.Strings(symbols)

	return symbols, nil
}

func (s *MemorySource) Close() error {
	return nil
}

func inRange(t time.Time, start, end optional.Option[time.Time]) bool {
	if start.IsSome() && t.Before(start.Unwrap()) {
		return false
	}

	if end.IsSome() && t.After(end.Unwrap()) {
		return false
	}

	return true
}
