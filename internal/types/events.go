package types

import (
	"time"

	"github.com/moznion/go-optional"
)

// OrderEventType identifies the kind of gateway event.
type OrderEventType string

const (
	// OrderEventAck acknowledges a submitted order.
	OrderEventAck OrderEventType = "ACK"
	// OrderEventFill carries an execution for an order.
	OrderEventFill OrderEventType = "FILL"
	// OrderEventReject terminates an order that the gateway refused.
	OrderEventReject OrderEventType = "REJECT"
	// OrderEventCancelConfirm terminates an order whose cancel request won.
	OrderEventCancelConfirm OrderEventType = "CANCEL_CONFIRM"
	// OrderEventExpire terminates an order the venue expired.
	OrderEventExpire OrderEventType = "EXPIRE"
	// OrderEventDisconnected signals the live session dropped. Outstanding
	// orders stay in their last known state until reconciliation resolves them.
	OrderEventDisconnected OrderEventType = "DISCONNECTED"
	// OrderEventReconnected signals the live session was re-established and
	// open-order status has been re-subscribed.
	OrderEventReconnected OrderEventType = "RECONNECTED"
)

// OrderEvent is one element of the gateway's ordered event stream. A single
// logical owner consumes the stream and is the only writer of order and
// position state.
type OrderEvent struct {
	Type    OrderEventType
	OrderID string
	// Fill is present only for OrderEventFill.
	Fill   optional.Option[Fill]
	Reason string
	Time   time.Time
}
