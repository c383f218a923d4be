package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/cloudcart-orderflow/internal/aws"
)

// Product is the stock view of a products table row.
type Product struct {
	ProductID string `json:"productId" dynamodbav:"product_id"`
	Stock     int    `json:"stock" dynamodbav:"stock"`
}

// Store applies conditional stock updates to the products table. It also
// serves as the in-process StockClient.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewStore returns a Store bound to tableName.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

var _ StockClient = (*Store)(nil)

// Get returns the product or (nil, nil).
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            productKey(productID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, classify("get product", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// SetStock overwrites the stock level, creating the product when absent.
func (s *Store) SetStock(ctx context.Context, productID string, stock int) error {
	if stock < 0 {
		return fmt.Errorf("stock must be >= 0, got %d", stock)
	}
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              productKey(productID),
		UpdateExpression: awsString("SET stock = :stock"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":stock": number(stock),
		},
	})
	if err != nil {
		return classify("set stock", err)
	}
	return nil
}

// Reserve decrements stock when at least quantity is available. The check and
// the decrement are one conditional write.
func (s *Store) Reserve(ctx context.Context, productID string, quantity int) error {
	_, err := s.client.UpdateItem(ctx, reserveUpdate(s.tableName, productID, quantity))
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return fmt.Errorf("%s: %w", productID, ErrProductNotFound)
		}
		return fmt.Errorf("%s: %w", productID, ErrInsufficientStock)
	}
	return classify("reserve stock", err)
}

// Release adds quantity back. With a token the increment happens at most once:
// a token already recorded on the product makes the call a no-op.
func (s *Store) Release(ctx context.Context, productID string, quantity int, token string) error {
	input := &dyn.UpdateItemInput{
		TableName:                           &s.tableName,
		Key:                                 productKey(productID),
		UpdateExpression:                    awsString("ADD stock :qty"),
		ConditionExpression:                 awsString("attribute_exists(product_id)"),
		ExpressionAttributeValues:           map[string]types.AttributeValue{":qty": number(quantity)},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
	if token != "" {
		input.UpdateExpression = awsString("ADD stock :qty, release_tokens :tokenSet")
		input.ConditionExpression = awsString("attribute_exists(product_id) AND NOT contains(release_tokens, :token)")
		input.ExpressionAttributeValues[":token"] = &types.AttributeValueMemberS{Value: token}
		input.ExpressionAttributeValues[":tokenSet"] = &types.AttributeValueMemberSS{Value: []string{token}}
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return fmt.Errorf("%s: %w", productID, ErrProductNotFound)
		}
		// token already applied
		return nil
	}
	return classify("release stock", err)
}

func reserveUpdate(table, productID string, quantity int) *dyn.UpdateItemInput {
	return &dyn.UpdateItemInput{
		TableName:                           &table,
		Key:                                 productKey(productID),
		UpdateExpression:                    awsString("SET stock = stock - :qty"),
		ConditionExpression:                 awsString("attribute_exists(product_id) AND stock >= :qty"),
		ExpressionAttributeValues:           map[string]types.AttributeValue{":qty": number(quantity)},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
}

func productKey(productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberS{Value: productID},
	}
}

func number(n int) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
