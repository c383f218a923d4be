// Package saga places orders: validate, claim the idempotency key, reserve
// stock, publish then persist the order, and record the response for replay.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imrishuroy/cloudcart-orderflow/internal/apperr"
	"github.com/imrishuroy/cloudcart-orderflow/internal/events"
	"github.com/imrishuroy/cloudcart-orderflow/internal/idempotency"
	"github.com/imrishuroy/cloudcart-orderflow/internal/inventory"
	"github.com/imrishuroy/cloudcart-orderflow/internal/logging"
	"github.com/imrishuroy/cloudcart-orderflow/internal/money"
	"github.com/imrishuroy/cloudcart-orderflow/internal/observability"
	"github.com/imrishuroy/cloudcart-orderflow/internal/orders"
	"github.com/imrishuroy/cloudcart-orderflow/internal/retry"
	"github.com/imrishuroy/cloudcart-orderflow/internal/validation"
)

// Client-facing messages.
const (
	msgValidation     = "Validation failed"
	msgInFlight       = "A request with this Idempotency-Key is already in progress"
	msgPreviousFailed = "The previous request with this Idempotency-Key failed; retry the request"
	msgInsufficient   = "Insufficient stock"
	msgUnavailable    = "Inventory service unavailable"
	msgBadGateway     = "Inventory service error"
	msgQueue          = "Order queue unavailable"
	msgIdempotency    = "Idempotency store unavailable"
	msgInternal       = "Failed to place order"
)

// Guard claims and finalises idempotency keys.
type Guard interface {
	Claim(ctx context.Context, key string) (idempotency.Claim, error)
	MarkCompleted(ctx context.Context, key string, statusCode int, responseBody, orderID string) error
	MarkFailed(ctx context.Context, key, note string) error
}

// Ledger persists new orders.
type Ledger interface {
	Create(ctx context.Context, order orders.Order) error
}

// Publisher sends events to the order-placed queue.
type Publisher interface {
	Publish(ctx context.Context, eventType string, event interface{}) error
}

// Response is the HTTP outcome of Place. Body is sent verbatim.
type Response struct {
	StatusCode int
	Body       []byte
	OrderID    string
	Replayed   bool
}

// Deps are the collaborators of a Saga.
type Deps struct {
	Guard        Guard
	Coordinator  inventory.Coordinator
	Ledger       Ledger
	Publisher    Publisher
	Metrics      observability.Metrics
	PersistRetry retry.Policy
}

// Saga runs order placement.
type Saga struct {
	validator    *validatorv10.Validate
	guard        Guard
	coordinator  inventory.Coordinator
	ledger       Ledger
	publisher    Publisher
	metrics      observability.Metrics
	persistRetry retry.Policy
	newID        func() string
	nowFunc      func() time.Time
}

// New returns a Saga. A nil Metrics discards metrics.
func New(d Deps) *Saga {
	m := d.Metrics
	if m == nil {
		m = observability.Nop{}
	}
	return &Saga{
		validator:    validation.New(),
		guard:        d.Guard,
		coordinator:  d.Coordinator,
		ledger:       d.Ledger,
		publisher:    d.Publisher,
		metrics:      m,
		persistRetry: d.PersistRetry,
		newID:        uuid.NewString,
		nowFunc:      time.Now,
	}
}

// Place runs the saga for one request. An empty key skips the idempotency guard.
func (s *Saga) Place(ctx context.Context, key string, req validation.PlaceOrderRequest) (resp Response) {
	ctx, span := observability.Tracer().Start(ctx, "saga.place_order")
	defer span.End()
	log := logging.FromContext(ctx)

	if details := validation.Validate(s.validator, &req); len(details) > 0 {
		e := apperr.New(apperr.Validation, msgValidation)
		e.Details = details
		s.metrics.Count(ctx, observability.MetricOrderFailed)
		return errorResponse(e)
	}
	span.SetAttributes(attribute.String("order.user_id", req.UserID), attribute.Int("order.items", len(req.Items)))

	if key != "" {
		claim, err := s.guard.Claim(ctx, key)
		if err != nil {
			log.Error("idempotency claim failed", zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "idempotency claim failed")
			return errorResponse(apperr.Wrap(apperr.Unavailable, msgIdempotency, err))
		}
		span.SetAttributes(attribute.String("idempotency.outcome", claim.Outcome.String()))
		switch claim.Outcome {
		case idempotency.Replay:
			log.Info("replaying cached response", zap.String("order_id", claim.OrderID))
			return Response{StatusCode: claim.StatusCode, Body: []byte(claim.Body), OrderID: claim.OrderID, Replayed: true}
		case idempotency.InFlight:
			return errorResponse(apperr.New(apperr.Conflict, msgInFlight))
		case idempotency.PreviousFailed:
			return errorResponse(apperr.New(apperr.Unavailable, msgPreviousFailed))
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while placing order", zap.Any("panic", r), zap.Stack("stack"))
			span.SetStatus(codes.Error, "panic")
			s.metrics.Count(ctx, observability.MetricOrderFailed)
			s.markFailed(ctx, key, fmt.Sprintf("panic: %v", r))
			resp = errorResponse(apperr.New(apperr.Internal, msgInternal))
		}
	}()

	orderID, err := s.run(ctx, req)
	if err != nil {
		ae := apperr.As(err, msgInternal)
		if ae.Kind == apperr.Conflict {
			s.metrics.Count(ctx, observability.MetricStockInsufficient)
			log.Info("order rejected", zap.String("reason", ae.Message))
		} else {
			s.metrics.Count(ctx, observability.MetricOrderFailed)
			log.Error("order placement failed", zap.Int("status", ae.StatusCode()), zap.Error(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, ae.Message)
		}
		s.markFailed(ctx, key, ae.Error())
		return errorResponse(ae)
	}

	body, err := json.Marshal(map[string]string{"orderId": orderID})
	if err != nil {
		panic(err)
	}
	if key != "" {
		if err := s.guard.MarkCompleted(ctx, key, 201, string(body), orderID); err != nil {
			log.Warn("could not cache idempotent response", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	s.metrics.Count(ctx, observability.MetricOrderPlaced)
	log.Info("order placed", zap.String("order_id", orderID))
	return Response{StatusCode: 201, Body: body, OrderID: orderID}
}

// run reserves, publishes and persists. Errors are *apperr.Error.
func (s *Saga) run(ctx context.Context, req validation.PlaceOrderRequest) (string, error) {
	orderID := s.newID()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("order.id", orderID))

	items := make([]orders.Item, 0, len(req.Items))
	lines := make([]inventory.Line, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, orders.Item{ProductID: it.ProductID, Quantity: it.Quantity, Price: money.FromFloat(it.Price)})
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	res, err := s.coordinator.Reserve(ctx, orderID, lines)
	switch {
	case errors.Is(err, inventory.ErrUnavailable):
		return "", apperr.Wrap(apperr.Unavailable, msgUnavailable, err)
	case errors.Is(err, inventory.ErrBadGateway):
		return "", apperr.Wrap(apperr.BadGateway, msgBadGateway, err)
	case err != nil:
		return "", apperr.Wrap(apperr.Internal, msgInternal, err)
	}
	if !res.OK() {
		e := apperr.New(apperr.Conflict, msgInsufficient)
		for _, f := range res.Failed {
			e.Items = append(e.Items, apperr.ItemDetail{ProductID: f.ProductID, Reason: f.Reason})
		}
		return "", e
	}

	now := s.nowFunc().UTC()
	order := orders.Order{
		OrderID:     orderID,
		UserID:      req.UserID,
		Items:       items,
		TotalAmount: orders.Total(items),
		Status:      orders.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.publisher.Publish(ctx, events.TypeOrderPlaced, events.FromOrder(order)); err != nil {
		s.releaseAll(ctx, orderID, inventory.MergeLines(lines))
		return "", apperr.Wrap(apperr.Unavailable, msgQueue, err)
	}

	if err := s.persist(ctx, order); err != nil {
		// the event is queued; payment keeps retrying until the row shows up or the message dead-letters
		return "", apperr.Wrap(apperr.Internal, msgInternal, err)
	}
	return orderID, nil
}

func (s *Saga) persist(ctx context.Context, order orders.Order) error {
	return retry.Do(ctx, s.persistRetry,
		func() error {
			err := s.ledger.Create(ctx, order)
			if errors.Is(err, orders.ErrOrderExists) {
				return nil
			}
			return err
		},
		nil,
		func(err error, wait time.Duration) {
			logging.FromContext(ctx).Warn("persist order failed, retrying", zap.Duration("wait", wait), zap.Error(err))
		})
}

func (s *Saga) releaseAll(ctx context.Context, orderID string, lines []inventory.Line) {
	for _, l := range lines {
		err := s.coordinator.Release(ctx, l.ProductID, l.Quantity, inventory.ReleaseToken(orderID, l.ProductID))
		if err != nil {
			s.metrics.Count(ctx, observability.MetricCompensationFailed)
			logging.FromContext(ctx).Error("compensation release failed",
				zap.String("order_id", orderID),
				zap.String("product_id", l.ProductID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err))
		}
	}
}

func (s *Saga) markFailed(ctx context.Context, key, note string) {
	if key == "" {
		return
	}
	if err := s.guard.MarkFailed(ctx, key, note); err != nil {
		logging.FromContext(ctx).Warn("could not mark idempotency record failed", zap.Error(err))
	}
}

func errorResponse(e *apperr.Error) Response {
	return Response{StatusCode: e.StatusCode(), Body: e.Body()}
}
