package orders

import (
	"errors"
	"time"

	"github.com/imrishuroy/cloudcart-orderflow/internal/money"
)

// Status is the order lifecycle state.
type Status string

// Order statuses
const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusFailed  Status = "FAILED"
	StatusShipped Status = "SHIPPED"
)

// ErrIllegalTransition is returned before any write when the requested edge is
// not part of the lifecycle.
var ErrIllegalTransition = errors.New("illegal status transition")

// CanAdvanceTo reports whether s -> next is a lifecycle edge.
func (s Status) CanAdvanceTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusPaid || next == StatusFailed
	case StatusPaid:
		return next == StatusShipped
	}
	return false
}

// Item is one order line.
type Item struct {
	ProductID string       `json:"productId" dynamodbav:"product_id"`
	Quantity  int          `json:"quantity" dynamodbav:"quantity"`
	Price     money.Amount `json:"price" dynamodbav:"price"`
}

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	OrderID     string       `json:"orderId" dynamodbav:"order_id"` // PK
	UserID      string       `json:"userId" dynamodbav:"user_id"`   // GSI hash key
	Items       []Item       `json:"items" dynamodbav:"items"`
	TotalAmount money.Amount `json:"totalAmount" dynamodbav:"total_amount"`
	Status      Status       `json:"status" dynamodbav:"status"`
	CreatedAt   time.Time    `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt   time.Time    `json:"updatedAt" dynamodbav:"updated_at"`
	TrackingID  string       `json:"trackingId,omitempty" dynamodbav:"tracking_id,omitempty"`
	ShippedAt   *time.Time   `json:"shippedAt,omitempty" dynamodbav:"shipped_at,omitempty"`
}

// Total sums quantity * price over items.
func Total(items []Item) money.Amount {
	total := money.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(it.Quantity))
	}
	return total
}

// Outcome classifies a conditional transition.
type Outcome int

const (
	// Applied means the status was written.
	Applied Outcome = iota
	// OrderMissing means no order row exists yet.
	OrderMissing
	// StatusMismatch means the order exists in a different status.
	StatusMismatch
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case OrderMissing:
		return "order_missing"
	case StatusMismatch:
		return "status_mismatch"
	}
	return "unknown"
}

// TransitionResult reports what a conditional transition did. Current is the
// status found in the row when Outcome is StatusMismatch.
type TransitionResult struct {
	Outcome Outcome
	Current Status
}

// Shipment carries the attributes written alongside PAID -> SHIPPED.
type Shipment struct {
	TrackingID string
	ShippedAt  time.Time
}
