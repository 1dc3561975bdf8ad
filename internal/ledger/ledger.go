// Package ledger derives positions and realized P&L purely from confirmed
// fills. The ledger applies fills strictly in arrival order and is idempotent
// under duplicate execution ids.
package ledger

import (
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// cycle accumulates entry and exit fills of one round-trip. A cycle opens when
// a flat symbol receives a fill and closes when the quantity returns through
// zero, at which point it becomes a Trade.
type cycle struct {
	direction     types.PositionDirection
	entryQty      decimal.Decimal
	entryNotional decimal.Decimal
	exitQty       decimal.Decimal
	exitNotional  decimal.Decimal
	commission    decimal.Decimal
	entryTime     time.Time
}

// Ledger owns all Position records. Only the gateway event consumer mutates it
// (single-writer discipline); concurrent readers such as the reconciliation
// loop take snapshots under the read lock.
type Ledger struct {
	mu        sync.RWMutex
	log       *logger.Logger
	positions map[string]*types.Position
	cycles    map[string]*cycle
	trades    []types.Trade
	seenExecs map[string]struct{}
}

func NewLedger(log *logger.Logger) *Ledger {
	return &Ledger{
		log:       log,
		positions: make(map[string]*types.Position),
		cycles:    make(map[string]*cycle),
		trades:    nil,
		seenExecs: make(map[string]struct{}),
	}
}

// Apply applies a single fill and returns the Trade it closed, if any.
// Re-applying a fill with an already seen execution id is a no-op and returns
// None, leaving the ledger byte-identical.
func (l *Ledger) Apply(fill types.Fill) (optional.Option[types.Trade], error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if fill.ExecID == "" {
		return optional.None[types.Trade](), errors.New(errors.ErrCodeLedgerApply, "fill has no execution id")
	}

	if _, seen := l.seenExecs[fill.ExecID]; seen {
		l.log.Debug("Duplicate fill dropped by ledger",
			zap.String("exec_id", fill.ExecID),
			zap.String("order_id", fill.OrderID),
		)

		return optional.None[types.Trade](), nil
	}

	if fill.Symbol == "" {
		return optional.None[types.Trade](), errors.New(errors.ErrCodeFillSymbol, "fill has no symbol")
	}

	if fill.Quantity <= 0 {
		return optional.None[types.Trade](), errors.Newf(errors.ErrCodeFillQuantity, "fill quantity must be positive: %f", fill.Quantity)
	}

	if fill.Price <= 0 {
		return optional.None[types.Trade](), errors.Newf(errors.ErrCodeLedgerApply, "fill price must be positive: %f", fill.Price)
	}

	position, ok := l.positions[fill.Symbol]
	if !ok {
		position = &types.Position{Symbol: fill.Symbol}
		l.positions[fill.Symbol] = position
	}

	currentQty := decimal.NewFromFloat(position.Quantity)
	signedFill := decimal.NewFromFloat(fill.SignedQuantity())

	// Same-direction (or opening) fill: weighted-average cost, no realization.
	if currentQty.IsZero() || currentQty.Sign() == signedFill.Sign() {
		l.applyIncrease(position, fill, currentQty, signedFill)
		l.seenExecs[fill.ExecID] = struct{}{}

		return optional.None[types.Trade](), nil
	}

	maybeTrade, err := l.applyReduce(position, fill, currentQty, signedFill)
	if err != nil {
		// Nothing was mutated and the execution id stays unseen; the fill can
		// be replayed once the inconsistency is resolved.
		return optional.None[types.Trade](), err
	}

	l.seenExecs[fill.ExecID] = struct{}{}

	return maybeTrade, nil
}

// applyIncrease handles fills that open or add to a position.
func (l *Ledger) applyIncrease(position *types.Position, fill types.Fill, currentQty, signedFill decimal.Decimal) {
	fillQty := decimal.NewFromFloat(fill.Quantity)
	fillPrice := decimal.NewFromFloat(fill.Price)

	absCurrent := currentQty.Abs()
	newAbs := absCurrent.Add(fillQty)
	oldNotional := absCurrent.Mul(decimal.NewFromFloat(position.AvgCost))
	newNotional := oldNotional.Add(fillQty.Mul(fillPrice))

	position.AvgCost, _ = newNotional.Div(newAbs).Float64()
	position.Quantity, _ = currentQty.Add(signedFill).Float64()
	position.UpdatedAt = fill.Time

	c, ok := l.cycles[fill.Symbol]
	if !ok {
		c = &cycle{
			direction: directionOf(signedFill),
			entryTime: fill.Time,
		}
		l.cycles[fill.Symbol] = c
		position.OpenedAt = fill.Time
	}

	c.entryQty = c.entryQty.Add(fillQty)
	c.entryNotional = c.entryNotional.Add(fillQty.Mul(fillPrice))
	c.commission = c.commission.Add(decimal.NewFromFloat(fill.Commission))
}

// applyReduce handles fills against the current direction: reductions, full
// closes and direction-crossing splits.
func (l *Ledger) applyReduce(position *types.Position, fill types.Fill, currentQty, signedFill decimal.Decimal) (optional.Option[types.Trade], error) {
	c, ok := l.cycles[fill.Symbol]
	if !ok {
		// A reducing fill with no open cycle means fills arrived for a position
		// the ledger never saw open. Refuse, before touching the position,
		// rather than fabricate a basis.
		return optional.None[types.Trade](), errors.Newf(errors.ErrCodeLedgerApply,
			"no open round-trip for %s", fill.Symbol)
	}

	fillQty := decimal.NewFromFloat(fill.Quantity)
	fillPrice := decimal.NewFromFloat(fill.Price)
	avgCost := decimal.NewFromFloat(position.AvgCost)
	commission := decimal.NewFromFloat(fill.Commission)

	absCurrent := currentQty.Abs()
	closeQty := decimal.Min(fillQty, absCurrent)
	closeFraction := closeQty.Div(fillQty)
	closeCommission := commission.Mul(closeFraction)

	// Realized P&L on the closing portion. Long closes realize price - cost;
	// short closes realize cost - price.
	var realized decimal.Decimal
	if currentQty.Sign() > 0 {
		realized = fillPrice.Sub(avgCost).Mul(closeQty)
	} else {
		realized = avgCost.Sub(fillPrice).Mul(closeQty)
	}

	position.RealizedPnL, _ = decimal.NewFromFloat(position.RealizedPnL).Add(realized).Float64()

	newQty := currentQty.Add(signedFill)
	position.Quantity, _ = newQty.Float64()
	position.UpdatedAt = fill.Time

	c.exitQty = c.exitQty.Add(closeQty)
	c.exitNotional = c.exitNotional.Add(closeQty.Mul(fillPrice))
	c.commission = c.commission.Add(closeCommission)

	if !newQty.IsZero() && newQty.Sign() == currentQty.Sign() {
		// Plain reduction, round-trip still open.
		return optional.None[types.Trade](), nil
	}

	// Quantity returned through zero: the cycle is complete.
	trade := c.toTrade(fill)
	l.trades = append(l.trades, trade)
	delete(l.cycles, fill.Symbol)

	if newQty.IsZero() {
		// Position record becomes inert.
		position.AvgCost = 0

		return optional.Some(trade), nil
	}

	// Direction reversal: the remainder of the fill opens a fresh position in
	// the opposite direction with a cost basis equal to the fill price.
	openQty := fillQty.Sub(closeQty)
	openCommission := commission.Sub(closeCommission)

	position.AvgCost = fill.Price
	position.OpenedAt = fill.Time

	l.cycles[fill.Symbol] = &cycle{
		direction:     directionOf(newQty),
		entryQty:      openQty,
		entryNotional: openQty.Mul(fillPrice),
		commission:    openCommission,
		entryTime:     fill.Time,
	}

	return optional.Some(trade), nil
}

// toTrade converts a completed cycle into an immutable Trade record.
func (c *cycle) toTrade(exit types.Fill) types.Trade {
	avgEntry := decimal.Zero
	if !c.entryQty.IsZero() {
		avgEntry = c.entryNotional.Div(c.entryQty)
	}

	avgExit := decimal.Zero
	if !c.exitQty.IsZero() {
		avgExit = c.exitNotional.Div(c.exitQty)
	}

	var gross decimal.Decimal
	if c.direction == types.DirectionLong {
		gross = c.exitNotional.Sub(c.entryNotional)
	} else {
		gross = c.entryNotional.Sub(c.exitNotional)
	}

	net := gross.Sub(c.commission)

	quantity, _ := c.exitQty.Float64()
	avgEntryPrice, _ := avgEntry.Float64()
	avgExitPrice, _ := avgExit.Float64()
	grossPnL, _ := gross.Float64()
	commission, _ := c.commission.Float64()
	netPnL, _ := net.Float64()

	return types.Trade{
		Symbol:        exit.Symbol,
		Direction:     c.direction,
		Quantity:      quantity,
		EntryTime:     c.entryTime,
		ExitTime:      exit.Time,
		AvgEntryPrice: avgEntryPrice,
		AvgExitPrice:  avgExitPrice,
		GrossPnL:      grossPnL,
		Commission:    commission,
		NetPnL:        netPnL,
	}
}

func directionOf(qty decimal.Decimal) types.PositionDirection {
	if qty.Sign() < 0 {
		return types.DirectionShort
	}

	return types.DirectionLong
}

// Position returns a copy of the current position for a symbol. A symbol with
// no fills yet returns a zero-quantity position.
func (l *Ledger) Position(symbol string) types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if position, ok := l.positions[symbol]; ok {
		return *position
	}

	return types.Position{Symbol: symbol}
}

// Positions returns copies of all position records with non-zero quantity.
func (l *Ledger) Positions() []types.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	positions := make([]types.Position, 0, len(l.positions))

	for _, position := range l.positions {
		if position.Quantity != 0 {
			positions = append(positions, *position)
		}
	}

	return positions
}

// QuantitySnapshot returns signed quantity per symbol, including inert
// (zero-quantity) records. Used by the reconciliation loop.
func (l *Ledger) QuantitySnapshot() map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snapshot := make(map[string]float64, len(l.positions))
	for symbol, position := range l.positions {
		snapshot[symbol] = position.Quantity
	}

	return snapshot
}

// Trades returns all closed round-trips in emission order.
func (l *Ledger) Trades() []types.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	trades := make([]types.Trade, len(l.trades))
	copy(trades, l.trades)

	return trades
}

// RealizedPnL returns total gross realized P&L over all symbols.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, position := range l.positions {
		total = total.Add(decimal.NewFromFloat(position.RealizedPnL))
	}

	result, _ := total.Float64()

	return result
}
