package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/cloudcart-orderflow/internal/aws"
)

// ErrOrderExists is returned by Create when the order_id is already taken.
var ErrOrderExists = errors.New("order already exists")

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	userIndex string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store. userIndex names the GSI keyed by user_id.
func NewStore(client aws.DynamoDBAPI, tableName, userIndex string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		userIndex: userIndex,
		nowFunc:   time.Now,
	}
}

// Create writes a new order under attribute_not_exists(order_id).
// ErrOrderExists is returned when the row is already present.
func (s *Store) Create(ctx context.Context, order Order) error {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrOrderExists
		}
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	key := map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key,
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ListByUser returns every order placed by userID, following pagination.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	input := &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &s.userIndex,
		KeyConditionExpression: awsString("user_id = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	}

	result := []Order{}
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query orders by user: %w", err)
		}
		var page []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		result = append(result, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return result, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Transition moves orderID from expected to next in a single conditional
// update. Illegal edges fail with ErrIllegalTransition before any write.
// A failed guard is not an error: the result says whether the row was missing
// or held another status.
func (s *Store) Transition(ctx context.Context, orderID string, expected, next Status) (TransitionResult, error) {
	return s.transition(ctx, orderID, expected, next, nil)
}

// Ship moves a PAID order to SHIPPED and records the tracking details.
func (s *Store) Ship(ctx context.Context, orderID string, shipment Shipment) (TransitionResult, error) {
	return s.transition(ctx, orderID, StatusPaid, StatusShipped, &shipment)
}

func (s *Store) transition(ctx context.Context, orderID string, expected, next Status, shipment *Shipment) (TransitionResult, error) {
	if !expected.CanAdvanceTo(next) {
		return TransitionResult{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, expected, next)
	}

	now := s.nowFunc().UTC()
	updateExpr := "SET #s = :next, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":next":     &types.AttributeValueMemberS{Value: string(next)},
		":expected": &types.AttributeValueMemberS{Value: string(expected)},
		":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}
	if shipment != nil {
		updateExpr += ", tracking_id = :tid, shipped_at = :sa"
		values[":tid"] = &types.AttributeValueMemberS{Value: shipment.TrackingID}
		values[":sa"] = &types.AttributeValueMemberS{Value: shipment.ShippedAt.UTC().Format(time.RFC3339Nano)}
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:                    &updateExpr,
		ConditionExpression:                 awsString("attribute_exists(order_id) AND #s = :expected"),
		ExpressionAttributeNames:            map[string]string{"#s": "status"},
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return TransitionResult{Outcome: Applied}, nil
	}

	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return TransitionResult{}, fmt.Errorf("update order status: %w", err)
	}
	if len(ccf.Item) == 0 {
		return TransitionResult{Outcome: OrderMissing}, nil
	}
	var current struct {
		Status Status `dynamodbav:"status"`
	}
	if err := attributevalue.UnmarshalMap(ccf.Item, &current); err != nil {
		return TransitionResult{}, fmt.Errorf("unmarshal current status: %w", err)
	}
	return TransitionResult{Outcome: StatusMismatch, Current: current.Status}, nil
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
