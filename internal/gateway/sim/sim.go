// Package sim implements the simulated execution gateway used for backtests.
// Fills are derived deterministically from bars: replaying the same bars and
// orders produces a byte-identical event stream.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/commission"
	"github.com/meridian-lab/meridian-trading/internal/gateway"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/slippage"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

var _ gateway.Gateway = (*Gateway)(nil)

// FillPolicy controls which price a market order fills at.
type FillPolicy string

// LimitTouchPolicy controls whether a limit order fills when the bar merely
// touches the limit price or only when it trades through it.
type LimitTouchPolicy string

const (
	// FillPolicyNextOpen fills market orders at the open of the next bar.
	FillPolicyNextOpen FillPolicy = "next_open"
	// FillPolicySameClose fills market orders at the close of the bar that
	// triggered them.
	FillPolicySameClose FillPolicy = "same_close"

	// TouchPolicyFillOnTouch fills a limit order when the bar range touches the
	// limit price.
	TouchPolicyFillOnTouch LimitTouchPolicy = "fill_on_touch"
	// TouchPolicyRequireCross fills only when the bar trades strictly through
	// the limit price.
	TouchPolicyRequireCross LimitTouchPolicy = "require_cross"
)

// Config configures the simulated venue.
type Config struct {
	FillPolicy       FillPolicy       `yaml:"fill_policy"`
	LimitTouchPolicy LimitTouchPolicy `yaml:"limit_touch_policy"`
	InitialCash      float64          `yaml:"initial_cash"`
}

// Gateway is the simulated venue. It acknowledges every submission immediately
// and produces fills when ProcessBar is called with new market data. Pending
// orders are evaluated in submission order so runs are reproducible.
type Gateway struct {
	mu  sync.Mutex
	log *logger.Logger

	fillPolicy  FillPolicy
	touchPolicy LimitTouchPolicy
	slippage    slippage.Model
	fee         commission.Fee

	events     chan types.OrderEvent
	pending    map[string]*types.Order
	pendingIDs []string
	cash       decimal.Decimal
	execSeq    int
	closed     bool
}

func NewGateway(config Config, slip slippage.Model, fee commission.Fee, log *logger.Logger) *Gateway {
	if config.FillPolicy == "" {
		config.FillPolicy = FillPolicyNextOpen
	}

	if config.LimitTouchPolicy == "" {
		config.LimitTouchPolicy = TouchPolicyFillOnTouch
	}

	if slip == nil {
		slip = slippage.NewZeroSlippage()
	}

	if fee == nil {
		fee = commission.NewZeroFee()
	}

	return &Gateway{
		log:         log,
		fillPolicy:  config.FillPolicy,
		touchPolicy: config.LimitTouchPolicy,
		slippage:    slip,
		fee:         fee,
		events:      make(chan types.OrderEvent, 1024),
		pending:     make(map[string]*types.Order),
		cash:        decimal.NewFromFloat(config.InitialCash),
	}
}

// SubmitOrder queues the order and acknowledges it immediately.
func (g *Gateway) SubmitOrder(ctx context.Context, order types.Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return errors.New(errors.ErrCodeGatewayUnavailable, "simulated gateway is closed")
	}

	if _, ok := g.pending[order.ID]; ok {
		return errors.Newf(errors.ErrCodeGatewaySubmit, "order %s already pending", order.ID)
	}

	g.pending[order.ID] = &order
	g.pendingIDs = append(g.pendingIDs, order.ID)

	g.events <- types.OrderEvent{
		Type:    types.OrderEventAck,
		OrderID: order.ID,
		Time:    order.CreatedAt,
	}

	return nil
}

// CancelOrder removes a pending order and confirms the cancel. A cancel for an
// order that already filled returns an error; the fill won the race.
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return errors.New(errors.ErrCodeGatewayUnavailable, "simulated gateway is closed")
	}

	if _, ok := g.pending[orderID]; !ok {
		return errors.Newf(errors.ErrCodeGatewayCancel, "order %s is not pending", orderID)
	}

	g.removePending(orderID)

	g.events <- types.OrderEvent{
		Type:    types.OrderEventCancelConfirm,
		OrderID: orderID,
		Time:    time.Now(),
	}

	return nil
}

func (g *Gateway) Events() <-chan types.OrderEvent {
	return g.events
}

func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}

	g.closed = true
	close(g.events)

	return nil
}

// ProcessBar evaluates all pending orders against one bar. Orders are checked
// in submission order; filled orders leave the book before the next bar.
func (g *Gateway) ProcessBar(bar types.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return errors.New(errors.ErrCodeGatewayUnavailable, "simulated gateway is closed")
	}

	remaining := g.pendingIDs[:0:0]

	for _, id := range g.pendingIDs {
		order := g.pending[id]
		if order.Symbol != bar.Symbol {
			remaining = append(remaining, id)

			continue
		}

		price, fills := g.fillPrice(order, bar)
		if !fills {
			remaining = append(remaining, id)

			continue
		}

		delete(g.pending, id)
		g.emitFill(order, price, bar.Time)
	}

	g.pendingIDs = remaining

	return nil
}

// fillPrice decides whether the order executes on this bar and at what price,
// before slippage.
func (g *Gateway) fillPrice(order *types.Order, bar types.Bar) (float64, bool) {
	switch order.Type {
	case types.OrderTypeMarket:
		if g.fillPolicy == FillPolicySameClose {
			return bar.Close, true
		}

		return bar.Open, true
	case types.OrderTypeLimit:
		limit := order.LimitPrice.Unwrap()

		if order.Side == types.SideBuy {
			touched := bar.Low <= limit
			if g.touchPolicy == TouchPolicyRequireCross {
				touched = bar.Low < limit
			}

			if !touched {
				return 0, false
			}

			// A gap below the limit fills at the open, never worse than the limit.
			if bar.Open < limit {
				return bar.Open, true
			}

			return limit, true
		}

		touched := bar.High >= limit
		if g.touchPolicy == TouchPolicyRequireCross {
			touched = bar.High > limit
		}

		if !touched {
			return 0, false
		}

		if bar.Open > limit {
			return bar.Open, true
		}

		return limit, true
	default:
		return 0, false
	}
}

// emitFill produces the execution event and settles cash. Limit orders fill at
// their computed price; slippage applies to market orders only.
func (g *Gateway) emitFill(order *types.Order, price float64, at time.Time) {
	if order.Type == types.OrderTypeMarket {
		price = g.slippage.Adjust(price, order.Side)
	}

	fee := g.fee.Calculate(order.Quantity, price)

	g.execSeq++
	fill := types.Fill{
		ExecID:     fmt.Sprintf("sim-%06d", g.execSeq),
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      price,
		Commission: fee,
		Time:       at,
		Simulated:  true,
	}

	notional := decimal.NewFromFloat(order.Quantity).Mul(decimal.NewFromFloat(price))
	if order.Side == types.SideBuy {
		g.cash = g.cash.Sub(notional)
	} else {
		g.cash = g.cash.Add(notional)
	}
	g.cash = g.cash.Sub(decimal.NewFromFloat(fee))

	g.log.Debug("Simulated fill",
		zap.String("order_id", order.ID),
		zap.String("exec_id", fill.ExecID),
		zap.Float64("price", price),
		zap.Float64("commission", fee),
	)

	g.events <- types.OrderEvent{
		Type:    types.OrderEventFill,
		OrderID: order.ID,
		Fill:    optional.Some(fill),
		Time:    at,
	}
}

func (g *Gateway) removePending(orderID string) {
	delete(g.pending, orderID)

	for i, id := range g.pendingIDs {
		if id == orderID {
			g.pendingIDs = append(g.pendingIDs[:i], g.pendingIDs[i+1:]...)

			break
		}
	}
}

// Cash returns the settled cash balance.
func (g *Gateway) Cash() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	cash, _ := g.cash.Float64()

	return cash
}

// PendingCount returns the number of orders still resting on the book.
func (g *Gateway) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.pending)
}
