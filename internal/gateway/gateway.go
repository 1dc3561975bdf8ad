// Package gateway defines the execution gateway abstraction. A gateway accepts
// order submissions and cancel requests and reports everything that happens to
// them on a single ordered event stream.
package gateway

import (
	"context"

	"github.com/meridian-lab/meridian-trading/internal/types"
)

// Gateway is the execution venue seen by the order lifecycle manager. The
// simulated and live implementations are interchangeable: the manager never
// learns which one it is talking to.
//
// Events() must deliver events for any one order in occurrence order. The
// channel is closed only by Close.
type Gateway interface {
	// SubmitOrder hands an order to the venue. A nil error means the order was
	// sent, not that it was accepted; acceptance arrives as an ACK event.
	SubmitOrder(ctx context.Context, order types.Order) error

	// CancelOrder requests cancellation. The request may lose the race against
	// a fill; the outcome arrives as a CANCEL_CONFIRM or FILL event.
	CancelOrder(ctx context.Context, orderID string) error

	// Events returns the gateway's ordered event stream.
	Events() <-chan types.OrderEvent

	// Close releases all gateway resources and closes the event stream.
	Close(ctx context.Context) error
}
