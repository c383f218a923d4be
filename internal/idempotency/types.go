package idempotency

import "time"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// IdempotencyRecord is the shape persisted in the idempotency DynamoDB table.
type IdempotencyRecord struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status"`
	OrderID        string    `dynamodbav:"order_id,omitempty"`
	ResponseBody   string    `dynamodbav:"response_body,omitempty"` // exact bytes returned on replay
	StatusCode     int       `dynamodbav:"status_code,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}

// ClaimOutcome is the result of trying to take ownership of a key.
type ClaimOutcome int

const (
	// Claimed means this request owns the key and must finish it.
	Claimed ClaimOutcome = iota
	// Replay means a completed response is cached for the key.
	Replay
	// InFlight means another request holds the key.
	InFlight
	// PreviousFailed means the last attempt failed; its record was cleared so
	// the client may retry.
	PreviousFailed
)

func (o ClaimOutcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case Replay:
		return "replay"
	case InFlight:
		return "in_flight"
	case PreviousFailed:
		return "previous_failed"
	}
	return "unknown"
}

// Claim is returned by Store.Claim. StatusCode and Body are set for Replay.
type Claim struct {
	Outcome    ClaimOutcome
	StatusCode int
	Body       string
	OrderID    string
}
