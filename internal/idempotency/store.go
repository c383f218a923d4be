package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/cloudcart-orderflow/internal/aws"
)

// ErrNotOwned is returned by MarkCompleted/MarkFailed when the record is no
// longer IN_PROGRESS (expired and reclaimed, or already finalised).
var ErrNotOwned = errors.New("idempotency record not in progress")

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // lifetime of a record before DynamoDB TTL reaps it
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for idempotency entries.
// ttlWindow: record lifetime (24h in production).
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// Claim creates an IN_PROGRESS record for key unless a live one exists.
// A record whose expires_at has passed but which TTL has not reaped yet is
// taken over. On conflict the existing record decides the outcome.
func (s *Store) Claim(ctx context.Context, key string) (Claim, error) {
	now := s.nowFunc().UTC()
	rec := IdempotencyRecord{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return Claim{}, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(idempotency_key) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err == nil {
		return Claim{Outcome: Claimed}, nil
	}
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return Claim{}, fmt.Errorf("put item: %w", err)
	}

	existing, err := s.Get(ctx, key)
	if err != nil {
		return Claim{}, err
	}
	if existing == nil {
		// deleted between our put and get; whoever deleted it may be retrying
		return Claim{Outcome: InFlight}, nil
	}

	switch existing.Status {
	case StatusCompleted:
		return Claim{
			Outcome:    Replay,
			StatusCode: existing.StatusCode,
			Body:       existing.ResponseBody,
			OrderID:    existing.OrderID,
		}, nil
	case StatusFailed:
		if err := s.deleteFailed(ctx, key); err != nil {
			return Claim{}, err
		}
		return Claim{Outcome: PreviousFailed}, nil
	default:
		return Claim{Outcome: InFlight}, nil
	}
}

// deleteFailed removes a FAILED record so the next attempt can claim the key.
// Losing the race to another deleter or claimer is fine.
func (s *Store) deleteFailed(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:                 &s.tableName,
		Key:                       keyAttr(key),
		ConditionExpression:       awsString("#s = :failed"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":failed": &types.AttributeValueMemberS{Value: StatusFailed}},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("delete failed record: %w", err)
	}
	return nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	input := &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            keyAttr(key),
		ConsistentRead: awsBool(true),
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec IdempotencyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkCompleted stores the response to replay for later requests with the same key.
func (s *Store) MarkCompleted(ctx context.Context, key string, statusCode int, responseBody, orderID string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyAttr(key),
		UpdateExpression:    awsString("SET #s = :completed, status_code = :sc, response_body = :rb, order_id = :oid, updated_at = :ua"),
		ConditionExpression: awsString("#s = :in_progress"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":completed":   &types.AttributeValueMemberS{Value: StatusCompleted},
			":in_progress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":sc":          &types.AttributeValueMemberN{Value: strconv.Itoa(statusCode)},
			":rb":          &types.AttributeValueMemberS{Value: responseBody},
			":oid":         &types.AttributeValueMemberS{Value: orderID},
			":ua":          &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	}
	return s.finalise(ctx, input, "mark completed")
}

// MarkFailed marks the idempotency record as FAILED and stores a note.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 keyAttr(key),
		UpdateExpression:    awsString("SET #s = :failed, note = :n, updated_at = :ua"),
		ConditionExpression: awsString("#s = :in_progress"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed":      &types.AttributeValueMemberS{Value: StatusFailed},
			":in_progress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":n":           &types.AttributeValueMemberS{Value: note},
			":ua":          &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	}
	return s.finalise(ctx, input, "mark failed")
}

func (s *Store) finalise(ctx context.Context, input *dyn.UpdateItemInput, op string) error {
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("update item (%s): %w", op, ErrNotOwned)
		}
		return fmt.Errorf("update item (%s): %w", op, err)
	}
	return nil
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key},
	}
}

// Helper
func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
