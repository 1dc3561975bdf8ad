package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"

	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

type Side string

type OrderType string

type OrderState string

type PositionDirection string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

const (
	// OrderStateCreated is the initial state before the order reaches a gateway.
	OrderStateCreated OrderState = "CREATED"
	// OrderStateSubmitted means the order was handed to the gateway but not yet acknowledged.
	OrderStateSubmitted OrderState = "SUBMITTED"
	// OrderStateAccepted means the gateway acknowledged the order.
	OrderStateAccepted OrderState = "ACCEPTED"
	// OrderStatePartiallyFilled means some but not all of the requested quantity executed.
	OrderStatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderStateFilled          OrderState = "FILLED"
	OrderStateCancelled       OrderState = "CANCELLED"
	OrderStateRejected        OrderState = "REJECTED"
	OrderStateExpired         OrderState = "EXPIRED"
	// OrderStateUnknown means the submission was neither acknowledged nor safely
	// retryable within the ack timeout. Resolved by reconciliation, never by retry.
	OrderStateUnknown OrderState = "UNKNOWN"
)

const (
	DirectionLong  PositionDirection = "LONG"
	DirectionShort PositionDirection = "SHORT"
	DirectionFlat  PositionDirection = "FLAT"
)

const (
	OrderReasonStrategy   string = "strategy"
	OrderReasonStopLoss   string = "stop_loss"
	OrderReasonTakeProfit string = "take_profit"
	OrderReasonShutdown   string = "shutdown"
)

// Reason records why an order was created.
type Reason struct {
	Reason  string `yaml:"reason" json:"reason" validate:"required"`
	Message string `yaml:"message" json:"message"`
}

// OrderRequest is a strategy's intent to trade. It carries no lifecycle state;
// the order lifecycle manager turns an accepted request into an Order.
type OrderRequest struct {
	Symbol   string    `yaml:"symbol" json:"symbol" validate:"required"`
	Side     Side      `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Type     OrderType `yaml:"type" json:"type" validate:"required,oneof=MARKET LIMIT"`
	Quantity float64   `yaml:"quantity" json:"quantity" validate:"required,gt=0"`
	// LimitPrice is required for limit orders and ignored for market orders.
	LimitPrice   optional.Option[float64] `yaml:"limit_price" json:"limit_price"`
	Reason       Reason                   `yaml:"reason" json:"reason"`
	StrategyName string                   `yaml:"strategy_name" json:"strategy_name"`
}

// Validate validates the OrderRequest struct.
func (r *OrderRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrderRequest, "invalid order request", err)
	}

	if r.Type == OrderTypeLimit {
		if r.LimitPrice.IsNone() {
			return errors.New(errors.ErrCodeInvalidPrice, "limit order requires a limit price")
		}

		if price := r.LimitPrice.Unwrap(); price <= 0 {
			return errors.Newf(errors.ErrCodeInvalidPrice, "limit price must be positive: %f", price)
		}
	}

	return nil
}

// Order is the lifecycle record for a single order. It is created by the order
// lifecycle manager and mutated only by the manager in response to gateway events.
type Order struct {
	ID           string                   `yaml:"id" json:"id"`
	Symbol       string                   `yaml:"symbol" json:"symbol"`
	Side         Side                     `yaml:"side" json:"side"`
	Type         OrderType                `yaml:"type" json:"type"`
	Quantity     float64                  `yaml:"quantity" json:"quantity"`
	LimitPrice   optional.Option[float64] `yaml:"limit_price" json:"limit_price"`
	State        OrderState               `yaml:"state" json:"state"`
	FilledQuantity float64                `yaml:"filled_quantity" json:"filled_quantity"`
	// AvgFillPrice is the quantity-weighted average price over all fills so far.
	AvgFillPrice float64   `yaml:"avg_fill_price" json:"avg_fill_price"`
	Fee          float64   `yaml:"fee" json:"fee"`
	Reason       Reason    `yaml:"reason" json:"reason"`
	StrategyName string    `yaml:"strategy_name" json:"strategy_name"`
	CreatedAt    time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt    time.Time `yaml:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the order has reached a terminal state.
// Terminal orders accept no further lifecycle events.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejected, OrderStateExpired:
		return true
	default:
		return false
	}
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() float64 {
	return o.Quantity - o.FilledQuantity
}

// CanCancel reports whether a cancel request is legal in the order's current state.
func (o *Order) CanCancel() bool {
	switch o.State {
	case OrderStateSubmitted, OrderStateAccepted, OrderStatePartiallyFilled:
		return true
	default:
		return false
	}
}
