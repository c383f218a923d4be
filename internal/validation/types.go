package validation

// MaxItems bounds a single order; it also keeps a reservation within one
// DynamoDB transaction.
const MaxItems = 100

// Item represents a single order line item.
type Item struct {
	ProductID string  `json:"productId" validate:"required"`
	Quantity  int     `json:"quantity" validate:"min=1"`
	Price     float64 `json:"price" validate:"gte=0"` // price per unit
}

// PlaceOrderRequest is the payload for POST /orders
type PlaceOrderRequest struct {
	UserID string `json:"userId" validate:"required"`
	Items  []Item `json:"items" validate:"required,min=1,max=100,dive"`
}
