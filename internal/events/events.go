// Package events defines the messages exchanged between the saga stages.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/imrishuroy/cloudcart-orderflow/internal/money"
	"github.com/imrishuroy/cloudcart-orderflow/internal/orders"
)

// Event types carried in the event_type message attribute.
const (
	TypeOrderPlaced    = "OrderPlaced"
	TypePaymentSuccess = "PaymentSuccess"
)

// ErrMalformed wraps every decode failure; such messages can never succeed.
var ErrMalformed = errors.New("malformed event")

// OrderEvent is the body of OrderPlaced and PaymentSuccess messages.
type OrderEvent struct {
	OrderID     string        `json:"orderId"`
	UserID      string        `json:"userId"`
	Items       []orders.Item `json:"items"`
	TotalAmount money.Amount  `json:"totalAmount"`
}

// OrderPlacedEvent is published by the API once stock is reserved.
type OrderPlacedEvent = OrderEvent

// PaymentSuccessEvent is published by the payment stage after the order is PAID.
type PaymentSuccessEvent = OrderEvent

// FromOrder builds the event for o.
func FromOrder(o orders.Order) OrderEvent {
	return OrderEvent{
		OrderID:     o.OrderID,
		UserID:      o.UserID,
		Items:       o.Items,
		TotalAmount: o.TotalAmount,
	}
}

// Decode unmarshals a queue body and checks that it names an order.
func Decode(body string) (OrderEvent, error) {
	var e OrderEvent
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return OrderEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.OrderID == "" {
		return OrderEvent{}, fmt.Errorf("%w: orderId is missing", ErrMalformed)
	}
	return e, nil
}
