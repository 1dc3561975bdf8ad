// Package order implements the order lifecycle manager: the single writer of
// order state. It validates strategy requests, hands them to a gateway, and
// folds the gateway's event stream back into order records and the position
// ledger.
package order

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/gateway"
	"github.com/meridian-lab/meridian-trading/internal/ledger"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Listener receives lifecycle callbacks. Strategies implement it to observe
// their own orders and closed round-trips.
type Listener interface {
	OnOrderUpdate(order types.Order)
	OnTradeClosed(trade types.Trade)
}

// Manager owns all order records. All mutation goes through Submit, Cancel,
// Apply and MarkUnknown; the engine calls these from its single event loop, so
// the mutex only guards against concurrent readers such as the reconciliation
// loop calling HaltSymbol.
type Manager struct {
	mu       sync.RWMutex
	log      *logger.Logger
	gateway  gateway.Gateway
	ledger   *ledger.Ledger
	listener Listener

	// newID mints order ids. Defaults to random UUIDs; the backtest engine
	// injects a sequential generator so reruns produce identical ids.
	newID func() string

	orders map[string]*types.Order
	// seenExecs deduplicates fill events before they reach the order record.
	// The ledger keeps its own set; both must hold for exactly-once accounting.
	seenExecs map[string]struct{}
	halted    map[string]string
	// knownSymbols restricts submissions when non-empty.
	knownSymbols map[string]struct{}
}

func NewManager(gw gateway.Gateway, l *ledger.Ledger, log *logger.Logger) *Manager {
	return &Manager{
		log:          log,
		gateway:      gw,
		ledger:       l,
		newID:        func() string { return uuid.New().String() },
		orders:       make(map[string]*types.Order),
		seenExecs:    make(map[string]struct{}),
		halted:       make(map[string]string),
		knownSymbols: make(map[string]struct{}),
	}
}

// SetListener registers the lifecycle listener. Must be called before the
// event loop starts.
func (m *Manager) SetListener(l Listener) {
	m.listener = l
}

// SetIDGenerator replaces the order id source. Must be called before the
// first Submit.
func (m *Manager) SetIDGenerator(newID func() string) {
	m.newID = newID
}

// RestrictSymbols limits Submit to the given symbols. Without a restriction
// any symbol is accepted.
func (m *Manager) RestrictSymbols(symbols []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, symbol := range symbols {
		m.knownSymbols[symbol] = struct{}{}
	}
}

// Submit validates a request, creates the order record and hands it to the
// gateway. Validation failures and halted symbols reject before the gateway
// ever sees the order.
func (m *Manager) Submit(ctx context.Context, request types.OrderRequest) (types.Order, error) {
	if err := request.Validate(); err != nil {
		return types.Order{}, err
	}

	m.mu.Lock()

	if len(m.knownSymbols) > 0 {
		if _, ok := m.knownSymbols[request.Symbol]; !ok {
			m.mu.Unlock()

			return types.Order{}, errors.Newf(errors.ErrCodeUnknownSymbol, "symbol %s is not tradeable", request.Symbol)
		}
	}

	if reason, ok := m.halted[request.Symbol]; ok {
		m.mu.Unlock()

		return types.Order{}, errors.Newf(errors.ErrCodeSymbolHalted, "symbol %s is halted: %s", request.Symbol, reason)
	}

	now := time.Now()
	order := &types.Order{
		ID:           m.newID(),
		Symbol:       request.Symbol,
		Side:         request.Side,
		Type:         request.Type,
		Quantity:     request.Quantity,
		LimitPrice:   request.LimitPrice,
		State:        types.OrderStateCreated,
		Reason:       request.Reason,
		StrategyName: request.StrategyName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Record before submitting so events racing the submit call find the order.
	order.State = types.OrderStateSubmitted
	m.orders[order.ID] = order
	snapshot := *order
	m.mu.Unlock()

	if err := m.gateway.SubmitOrder(ctx, snapshot); err != nil {
		m.mu.Lock()
		order.State = types.OrderStateRejected
		order.UpdatedAt = time.Now()
		rejected := *order
		m.mu.Unlock()

		return rejected, errors.Wrapf(errors.ErrCodeGatewaySubmit, err, "submit failed for order %s", rejected.ID)
	}

	m.log.Info("Order submitted",
		zap.String("order_id", snapshot.ID),
		zap.String("symbol", snapshot.Symbol),
		zap.String("side", string(snapshot.Side)),
		zap.Float64("quantity", snapshot.Quantity),
	)

	return snapshot, nil
}

// Cancel requests cancellation of an open order. The cancel may still lose to
// a fill in flight; the order only becomes CANCELLED when the gateway confirms.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	m.mu.RLock()
	order, ok := m.orders[orderID]
	if !ok {
		m.mu.RUnlock()

		return errors.Newf(errors.ErrCodeOrderNotFound, "unknown order %s", orderID)
	}

	if !order.CanCancel() {
		state := order.State
		m.mu.RUnlock()

		return errors.Newf(errors.ErrCodeCancelNotAllowed, "order %s in state %s cannot be cancelled", orderID, state)
	}
	m.mu.RUnlock()

	if err := m.gateway.CancelOrder(ctx, orderID); err != nil {
		return errors.Wrapf(errors.ErrCodeGatewayCancel, err, "cancel failed for order %s", orderID)
	}

	return nil
}

// Apply folds one gateway event into order and ledger state. Events for
// terminal orders are dropped with an error so the caller can log them; the
// state itself never moves out of a terminal state.
func (m *Manager) Apply(event types.OrderEvent) error {
	switch event.Type {
	case types.OrderEventDisconnected:
		m.log.Warn("Gateway disconnected", zap.String("reason", event.Reason))

		return nil
	case types.OrderEventReconnected:
		m.log.Info("Gateway reconnected")

		return nil
	}

	m.mu.Lock()

	order, ok := m.orders[event.OrderID]
	if !ok {
		m.mu.Unlock()

		if event.Type == types.OrderEventFill {
			return errors.Newf(errors.ErrCodeMissedFill, "fill for unknown order %s", event.OrderID)
		}

		return errors.Newf(errors.ErrCodeOrderNotFound, "event %s for unknown order %s", event.Type, event.OrderID)
	}

	if order.State.IsTerminal() {
		state := order.State
		m.mu.Unlock()

		m.log.Warn("Event for terminal order dropped",
			zap.String("order_id", event.OrderID),
			zap.String("event", string(event.Type)),
			zap.String("state", string(state)),
		)

		return errors.Newf(errors.ErrCodeOrderTerminal, "order %s is terminal (%s), dropped %s", event.OrderID, state, event.Type)
	}

	switch event.Type {
	case types.OrderEventAck:
		return m.applyAckLocked(order, event)
	case types.OrderEventFill:
		return m.applyFillLocked(order, event)
	case types.OrderEventReject:
		return m.applyTerminalLocked(order, event, types.OrderStateRejected)
	case types.OrderEventCancelConfirm:
		return m.applyTerminalLocked(order, event, types.OrderStateCancelled)
	case types.OrderEventExpire:
		return m.applyTerminalLocked(order, event, types.OrderStateExpired)
	default:
		m.mu.Unlock()

		return errors.Newf(errors.ErrCodeIllegalTransition, "unhandled event type %s", event.Type)
	}
}

// applyAckLocked transitions SUBMITTED (or UNKNOWN, when an ack finally lands
// after a timeout) to ACCEPTED. Caller holds the write lock.
func (m *Manager) applyAckLocked(order *types.Order, event types.OrderEvent) error {
	switch order.State {
	case types.OrderStateSubmitted, types.OrderStateUnknown:
		order.State = types.OrderStateAccepted
		order.UpdatedAt = event.Time
		snapshot := *order
		m.mu.Unlock()

		m.notifyOrder(snapshot)

		return nil
	case types.OrderStateAccepted, types.OrderStatePartiallyFilled:
		// Duplicate ack, harmless.
		m.mu.Unlock()

		return nil
	default:
		state := order.State
		id := order.ID
		m.mu.Unlock()

		return errors.Newf(errors.ErrCodeIllegalTransition, "ack in state %s for order %s", state, id)
	}
}

// applyFillLocked applies an execution to the order record and forwards it to
// the ledger. Caller holds the write lock.
func (m *Manager) applyFillLocked(order *types.Order, event types.OrderEvent) error {
	id := order.ID

	if event.Fill.IsNone() {
		m.mu.Unlock()

		return errors.Newf(errors.ErrCodeIllegalTransition, "fill event without fill payload for order %s", id)
	}

	fill := event.Fill.Unwrap()

	if _, seen := m.seenExecs[fill.ExecID]; seen {
		m.mu.Unlock()

		m.log.Debug("Duplicate fill dropped",
			zap.String("exec_id", fill.ExecID),
			zap.String("order_id", id),
		)

		return nil
	}

	remainingBefore := order.Remaining()
	remaining := decimal.NewFromFloat(remainingBefore)
	fillQty := decimal.NewFromFloat(fill.Quantity)
	if fillQty.GreaterThan(remaining) {
		m.mu.Unlock()

		return errors.Newf(errors.ErrCodeOverfill, "fill of %f exceeds remaining %f on order %s",
			fill.Quantity, remainingBefore, id)
	}

	m.mu.Unlock()

	// The ledger goes first: if it rejects the fill, the order record stays
	// untouched and the execution id unseen, so a corrected event can replay.
	maybeTrade, err := m.ledger.Apply(fill)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeLedgerApply, err, "ledger rejected fill %s", fill.ExecID)
	}

	m.mu.Lock()
	m.seenExecs[fill.ExecID] = struct{}{}

	filledBefore := decimal.NewFromFloat(order.FilledQuantity)
	notional := filledBefore.Mul(decimal.NewFromFloat(order.AvgFillPrice)).
		Add(fillQty.Mul(decimal.NewFromFloat(fill.Price)))
	filledAfter := filledBefore.Add(fillQty)

	order.FilledQuantity, _ = filledAfter.Float64()
	order.AvgFillPrice, _ = notional.Div(filledAfter).Float64()
	order.Fee += fill.Commission
	order.UpdatedAt = fill.Time

	if filledAfter.GreaterThanOrEqual(decimal.NewFromFloat(order.Quantity)) {
		order.State = types.OrderStateFilled
	} else {
		order.State = types.OrderStatePartiallyFilled
	}

	snapshot := *order
	m.mu.Unlock()

	m.log.Info("Fill applied",
		zap.String("order_id", id),
		zap.String("exec_id", fill.ExecID),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("price", fill.Price),
		zap.String("state", string(snapshot.State)),
	)

	m.notifyOrder(snapshot)

	if maybeTrade.IsSome() {
		trade := maybeTrade.Unwrap()
		trade.StrategyName = snapshot.StrategyName
		m.notifyTrade(trade)
	}

	return nil
}

// applyTerminalLocked moves the order to a terminal state. Caller holds the
// write lock.
func (m *Manager) applyTerminalLocked(order *types.Order, event types.OrderEvent, state types.OrderState) error {
	order.State = state
	order.UpdatedAt = event.Time
	if event.Reason != "" {
		order.Reason.Message = event.Reason
	}
	snapshot := *order
	m.mu.Unlock()

	m.log.Info("Order reached terminal state",
		zap.String("order_id", snapshot.ID),
		zap.String("state", string(state)),
		zap.String("reason", event.Reason),
	)

	m.notifyOrder(snapshot)

	return nil
}

// MarkUnknown flags an order whose submission was never acknowledged within
// the ack timeout. Unknown orders are resolved by a later ack, a terminal
// event, or reconciliation. Never by resubmission.
func (m *Manager) MarkUnknown(orderID string) error {
	m.mu.Lock()

	order, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()

		return errors.Newf(errors.ErrCodeOrderNotFound, "unknown order %s", orderID)
	}

	if order.State != types.OrderStateSubmitted {
		m.mu.Unlock()

		return nil
	}

	order.State = types.OrderStateUnknown
	order.UpdatedAt = time.Now()
	snapshot := *order
	m.mu.Unlock()

	m.log.Warn("Order ack timed out",
		zap.String("order_id", orderID),
		zap.String("symbol", snapshot.Symbol),
	)

	m.notifyOrder(snapshot)

	return nil
}

// HaltSymbol blocks new submissions for a symbol. Existing open orders are
// untouched; operators decide what to do with them.
func (m *Manager) HaltSymbol(symbol, reason string) {
	m.mu.Lock()
	m.halted[symbol] = reason
	m.mu.Unlock()

	m.log.Error("Symbol halted",
		zap.String("symbol", symbol),
		zap.String("reason", reason),
	)
}

// ResumeSymbol lifts a halt after an operator resolved the underlying cause.
func (m *Manager) ResumeSymbol(symbol string) {
	m.mu.Lock()
	delete(m.halted, symbol)
	m.mu.Unlock()

	m.log.Info("Symbol resumed", zap.String("symbol", symbol))
}

func (m *Manager) IsHalted(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.halted[symbol]

	return ok
}

// GetOrder returns a copy of the order record, if known.
func (m *Manager) GetOrder(orderID string) optional.Option[types.Order] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if order, ok := m.orders[orderID]; ok {
		return optional.Some(*order)
	}

	return optional.None[types.Order]()
}

// OpenOrders returns copies of all orders not yet in a terminal state.
func (m *Manager) OpenOrders() []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	open := make([]types.Order, 0)
	for _, order := range m.orders {
		if !order.State.IsTerminal() {
			open = append(open, *order)
		}
	}

	return open
}

func (m *Manager) notifyOrder(order types.Order) {
	if m.listener != nil {
		m.listener.OnOrderUpdate(order)
	}
}

func (m *Manager) notifyTrade(trade types.Trade) {
	if m.listener != nil {
		m.listener.OnTradeClosed(trade)
	}
}
