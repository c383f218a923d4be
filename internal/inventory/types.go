// Package inventory reserves and releases product stock. Two coordinators
// share one contract: AtomicCoordinator reserves every line in a single
// DynamoDB transaction, SequentialCoordinator reserves line by line through a
// StockClient and compensates on the first failure.
package inventory

import (
	"context"
	"errors"
	"fmt"
)

// Reasons reported per failed line.
const (
	ReasonInsufficientStock = "insufficient stock"
	ReasonProductNotFound   = "product not found"
)

var (
	// ErrInsufficientStock means the product exists with less stock than requested.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrProductNotFound means the product row does not exist.
	ErrProductNotFound = errors.New("product not found")
	// ErrUnavailable means the stock backend timed out, throttled or conflicted;
	// the caller may retry the whole request.
	ErrUnavailable = errors.New("inventory unavailable")
	// ErrBadGateway means the stock service answered with something unexpected.
	ErrBadGateway = errors.New("unexpected inventory response")
)

// Line is a requested quantity of one product.
type Line struct {
	ProductID string
	Quantity  int
}

// ItemFailure names a line that could not be reserved.
type ItemFailure struct {
	ProductID string `json:"productId"`
	Reason    string `json:"reason"`
}

// Result is the outcome of a reservation that reached the stock backend.
// An empty Failed means every line was reserved.
type Result struct {
	Failed []ItemFailure
}

// OK reports whether every line was reserved.
func (r Result) OK() bool { return len(r.Failed) == 0 }

// Coordinator reserves a set of lines all-or-nothing and releases them.
type Coordinator interface {
	// Reserve either reserves every line or none. Business rejections come back
	// in Result; transport problems as ErrUnavailable/ErrBadGateway.
	Reserve(ctx context.Context, reservationID string, lines []Line) (Result, error)
	// Release returns quantity to productID at most once per token.
	Release(ctx context.Context, productID string, quantity int, token string) error
}

// StockClient performs single-product stock operations.
type StockClient interface {
	Reserve(ctx context.Context, productID string, quantity int) error
	Release(ctx context.Context, productID string, quantity int, token string) error
}

// ReleaseToken identifies one line of one reservation.
func ReleaseToken(reservationID, productID string) string {
	return fmt.Sprintf("%s#%s", reservationID, productID)
}

// MergeLines sums quantities per product, keeping first-appearance order.
func MergeLines(lines []Line) []Line {
	idx := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if i, ok := idx[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out
}

func reasonFor(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return ReasonInsufficientStock, true
	case errors.Is(err, ErrProductNotFound):
		return ReasonProductNotFound, true
	}
	return "", false
}
