// Package strategy defines the interface trading strategies implement and the
// runtime context they trade through. The same strategy binary runs unchanged
// against the simulated and the live gateway; only the context wiring differs.
package strategy

import (
	"context"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
)

// OrderService is the slice of the order lifecycle manager strategies submit
// through.
type OrderService interface {
	Submit(ctx context.Context, request types.OrderRequest) (types.Order, error)
	Cancel(ctx context.Context, orderID string) error
	OpenOrders() []types.Order
}

// PositionView exposes read-only position state from the ledger.
type PositionView interface {
	Position(symbol string) types.Position
	Positions() []types.Position
}

// AccountView reports the cash available to the strategy.
type AccountView interface {
	Cash() float64
}

// Context is what a strategy sees on every callback. It is rebuilt by the
// engine per bar; strategies must not retain it across callbacks.
type Context struct {
	Ctx     context.Context
	Orders  OrderService
	Book    PositionView
	Account AccountView
	Log     *logger.Logger
}

// Strategy reacts to completed bars and order lifecycle updates. Callbacks are
// invoked from the engine's single event loop, so implementations need no
// internal locking.
type Strategy interface {
	// Name identifies the strategy on orders and trades it produces.
	Name() string
	// Initialize parses the strategy's YAML configuration block. An empty
	// string means defaults.
	Initialize(config string) error
	// OnBar is called once per completed bar, after fills for earlier
	// submissions have been applied.
	OnBar(ctx *Context, bar types.Bar) error
	// OnOrderUpdate is called after any state change of an order this run
	// submitted.
	OnOrderUpdate(order types.Order)
	// OnTradeClosed is called when a position round trip completes.
	OnTradeClosed(trade types.Trade)
}
