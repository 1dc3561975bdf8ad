package live

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/moznion/go-optional"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// executionReport is the user data stream payload for order state changes.
// Field names follow the Binance wire format.
type executionReport struct {
	EventType       string `json:"e"`
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	ClientOrderID   string `json:"c"`
	Side            string `json:"S"`
	OrderType       string `json:"o"`
	Quantity        string `json:"q"`
	Price           string `json:"p"`
	ExecutionType   string `json:"x"`
	OrderStatus     string `json:"X"`
	RejectReason    string `json:"r"`
	OrderID         int64  `json:"i"`
	LastFilledQty   string `json:"l"`
	LastFilledPrice string `json:"L"`
	Commission      string `json:"n"`
	TransactTime    int64  `json:"T"`
	TradeID         int64  `json:"t"`
	// OrigClientOrderID is set on cancels; it carries the id the order was
	// created with while ClientOrderID holds the cancel request id.
	OrigClientOrderID string `json:"C"`
}

// parseStreamMessage converts one raw user-stream message into an order event.
// Messages that are not execution reports (balance updates, listen key
// expiry) return None.
func parseStreamMessage(raw []byte) (optional.Option[types.OrderEvent], error) {
	var report executionReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return optional.None[types.OrderEvent](), errors.Wrap(errors.ErrCodeGatewayStream, "malformed stream message", err)
	}

	if report.EventType != "executionReport" {
		return optional.None[types.OrderEvent](), nil
	}

	event, err := report.toOrderEvent()
	if err != nil {
		return optional.None[types.OrderEvent](), err
	}

	return optional.Some(event), nil
}

func (r *executionReport) toOrderEvent() (types.OrderEvent, error) {
	at := time.UnixMilli(r.TransactTime)

	orderID := r.ClientOrderID
	if r.OrigClientOrderID != "" {
		orderID = r.OrigClientOrderID
	}

	switch r.ExecutionType {
	case "NEW":
		return types.OrderEvent{Type: types.OrderEventAck, OrderID: orderID, Time: at}, nil
	case "TRADE":
		return r.toFillEvent(orderID, at)
	case "CANCELED":
		return types.OrderEvent{Type: types.OrderEventCancelConfirm, OrderID: orderID, Time: at}, nil
	case "REJECTED":
		return types.OrderEvent{Type: types.OrderEventReject, OrderID: orderID, Reason: r.RejectReason, Time: at}, nil
	case "EXPIRED":
		return types.OrderEvent{Type: types.OrderEventExpire, OrderID: orderID, Time: at}, nil
	default:
		return types.OrderEvent{}, errors.Newf(errors.ErrCodeGatewayStream, "unhandled execution type %s", r.ExecutionType)
	}
}

func (r *executionReport) toFillEvent(orderID string, at time.Time) (types.OrderEvent, error) {
	quantity, err := strconv.ParseFloat(r.LastFilledQty, 64)
	if err != nil {
		return types.OrderEvent{}, errors.Wrap(errors.ErrCodeGatewayStream, "bad fill quantity", err)
	}

	price, err := strconv.ParseFloat(r.LastFilledPrice, 64)
	if err != nil {
		return types.OrderEvent{}, errors.Wrap(errors.ErrCodeGatewayStream, "bad fill price", err)
	}

	commission := 0.0
	if r.Commission != "" {
		commission, err = strconv.ParseFloat(r.Commission, 64)
		if err != nil {
			return types.OrderEvent{}, errors.Wrap(errors.ErrCodeGatewayStream, "bad fill commission", err)
		}
	}

	var side types.Side
	switch r.Side {
	case "BUY":
		side = types.SideBuy
	case "SELL":
		side = types.SideSell
	default:
		return types.OrderEvent{}, errors.Newf(errors.ErrCodeGatewayStream, "unknown side %s", r.Side)
	}

	fill := types.Fill{
		// Trade ids are unique per symbol, not globally.
		ExecID:     fmt.Sprintf("%s-%d", r.Symbol, r.TradeID),
		OrderID:    orderID,
		Symbol:     r.Symbol,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		Commission: commission,
		Time:       at,
	}

	return types.OrderEvent{
		Type:    types.OrderEventFill,
		OrderID: orderID,
		Fill:    optional.Some(fill),
		Time:    at,
	}, nil
}
