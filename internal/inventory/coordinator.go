package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/imrishuroy/cloudcart-orderflow/internal/aws"
	"github.com/imrishuroy/cloudcart-orderflow/internal/logging"
	"github.com/imrishuroy/cloudcart-orderflow/internal/observability"
	"github.com/imrishuroy/cloudcart-orderflow/internal/retry"
)

// releaseWithRetry retries only ErrUnavailable; the token makes repeats safe.
func releaseWithRetry(ctx context.Context, policy retry.Policy, client StockClient, productID string, quantity int, token string) error {
	return retry.Do(ctx, policy,
		func() error { return client.Release(ctx, productID, quantity, token) },
		func(err error) bool { return errors.Is(err, ErrUnavailable) },
		func(err error, wait time.Duration) {
			logging.FromContext(ctx).Warn("release attempt failed, retrying",
				zap.String("product_id", productID),
				zap.Duration("wait", wait),
				zap.Error(err))
		})
}

// AtomicCoordinator reserves all lines in one TransactWriteItems call.
type AtomicCoordinator struct {
	client    aws.DynamoDBAPI
	tableName string
	store     *Store
	retry     retry.Policy
}

// NewAtomicCoordinator returns the transactional coordinator.
func NewAtomicCoordinator(client aws.DynamoDBAPI, tableName string, policy retry.Policy) *AtomicCoordinator {
	return &AtomicCoordinator{
		client:    client,
		tableName: tableName,
		store:     NewStore(client, tableName),
		retry:     policy,
	}
}

var _ Coordinator = (*AtomicCoordinator)(nil)

// Reserve implements Coordinator.
func (c *AtomicCoordinator) Reserve(ctx context.Context, reservationID string, lines []Line) (Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "inventory.reserve.atomic")
	defer span.End()

	merged := MergeLines(lines)
	span.SetAttributes(
		attribute.String("reservation.id", reservationID),
		attribute.Int("reservation.lines", len(merged)),
	)

	items := make([]types.TransactWriteItem, 0, len(merged))
	for _, l := range merged {
		u := reserveUpdate(c.tableName, l.ProductID, l.Quantity)
		items = append(items, types.TransactWriteItem{Update: &types.Update{
			TableName:                           u.TableName,
			Key:                                 u.Key,
			UpdateExpression:                    u.UpdateExpression,
			ConditionExpression:                 u.ConditionExpression,
			ExpressionAttributeValues:           u.ExpressionAttributeValues,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		}})
	}

	_, err := c.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return Result{}, nil
	}

	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		var res Result
		retryable := false
		for i, reason := range tce.CancellationReasons {
			if i >= len(merged) || reason.Code == nil {
				continue
			}
			switch *reason.Code {
			case "ConditionalCheckFailed":
				r := ReasonInsufficientStock
				if len(reason.Item) == 0 {
					r = ReasonProductNotFound
				}
				res.Failed = append(res.Failed, ItemFailure{ProductID: merged[i].ProductID, Reason: r})
			case "TransactionConflict", "ThrottlingError", "ProvisionedThroughputExceeded", "RequestLimitExceeded":
				retryable = true
			}
		}
		if !res.OK() {
			span.SetAttributes(attribute.Int("reservation.failed_lines", len(res.Failed)))
			return res, nil
		}
		if retryable {
			span.SetStatus(codes.Error, "transaction conflict")
			return Result{}, fmt.Errorf("reserve transaction: %w: %v", ErrUnavailable, err)
		}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return Result{}, classify("reserve transaction", err)
}

// Release implements Coordinator.
func (c *AtomicCoordinator) Release(ctx context.Context, productID string, quantity int, token string) error {
	return releaseWithRetry(ctx, c.retry, c.store, productID, quantity, token)
}

// SequentialCoordinator reserves lines one at a time through a StockClient and
// releases what it reserved when a later line fails.
type SequentialCoordinator struct {
	client StockClient
	retry  retry.Policy
}

// NewSequentialCoordinator returns the compensating coordinator.
func NewSequentialCoordinator(client StockClient, policy retry.Policy) *SequentialCoordinator {
	return &SequentialCoordinator{client: client, retry: policy}
}

var _ Coordinator = (*SequentialCoordinator)(nil)

// Reserve implements Coordinator.
func (c *SequentialCoordinator) Reserve(ctx context.Context, reservationID string, lines []Line) (Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "inventory.reserve.sequential")
	defer span.End()

	merged := MergeLines(lines)
	span.SetAttributes(
		attribute.String("reservation.id", reservationID),
		attribute.Int("reservation.lines", len(merged)),
	)

	for i, l := range merged {
		err := c.client.Reserve(ctx, l.ProductID, l.Quantity)
		if err == nil {
			continue
		}

		c.compensate(ctx, reservationID, merged[:i])

		if reason, ok := reasonFor(err); ok {
			span.SetAttributes(attribute.String("reservation.failed_product", l.ProductID))
			return Result{Failed: []ItemFailure{{ProductID: l.ProductID, Reason: reason}}}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("reserve %s: %w", l.ProductID, err)
	}
	return Result{}, nil
}

// compensate releases the given lines; failures are logged, never returned.
func (c *SequentialCoordinator) compensate(ctx context.Context, reservationID string, reserved []Line) {
	for _, l := range reserved {
		token := ReleaseToken(reservationID, l.ProductID)
		if err := releaseWithRetry(ctx, c.retry, c.client, l.ProductID, l.Quantity, token); err != nil {
			logging.FromContext(ctx).Error("compensation release failed",
				zap.String("reservation_id", reservationID),
				zap.String("product_id", l.ProductID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err))
		}
	}
}

// Release implements Coordinator.
func (c *SequentialCoordinator) Release(ctx context.Context, productID string, quantity int, token string) error {
	return releaseWithRetry(ctx, c.retry, c.client, productID, quantity, token)
}
