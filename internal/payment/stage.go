// Package payment settles placed orders: each OrderPlaced event moves its
// order from PENDING to PAID or FAILED exactly once.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/imrishuroy/cloudcart-orderflow/internal/events"
	"github.com/imrishuroy/cloudcart-orderflow/internal/inventory"
	"github.com/imrishuroy/cloudcart-orderflow/internal/logging"
	"github.com/imrishuroy/cloudcart-orderflow/internal/observability"
	"github.com/imrishuroy/cloudcart-orderflow/internal/orders"
)

// ErrOrderNotVisible means the event arrived before its order row was written.
// The message is redelivered later.
var ErrOrderNotVisible = errors.New("order not visible yet")

// Decider chooses the payment outcome for an order: StatusPaid or StatusFailed.
type Decider func(ctx context.Context, ev events.OrderPlacedEvent) orders.Status

// RandomDecider pays an order with probability successRate.
func RandomDecider(successRate float64) Decider {
	return func(context.Context, events.OrderPlacedEvent) orders.Status {
		if rand.Float64() < successRate {
			return orders.StatusPaid
		}
		return orders.StatusFailed
	}
}

// Always returns a Decider that always yields status.
func Always(status orders.Status) Decider {
	return func(context.Context, events.OrderPlacedEvent) orders.Status { return status }
}

// Ledger advances order status with a conditional write.
type Ledger interface {
	Transition(ctx context.Context, orderID string, expected, next orders.Status) (orders.TransitionResult, error)
}

// Releaser returns reserved stock.
type Releaser interface {
	Release(ctx context.Context, productID string, quantity int, token string) error
}

// Publisher sends events to the payment-success queue.
type Publisher interface {
	Publish(ctx context.Context, eventType string, event interface{}) error
}

// Stage is the payment consumer.
type Stage struct {
	ledger    Ledger
	releaser  Releaser
	publisher Publisher
	decide    Decider
	metrics   observability.Metrics
}

// NewStage returns a Stage. A nil Metrics discards metrics.
func NewStage(ledger Ledger, releaser Releaser, publisher Publisher, decide Decider, m observability.Metrics) *Stage {
	if m == nil {
		m = observability.Nop{}
	}
	return &Stage{ledger: ledger, releaser: releaser, publisher: publisher, decide: decide, metrics: m}
}

// Handle processes one OrderPlaced message body.
func (s *Stage) Handle(ctx context.Context, body string) error {
	ev, err := events.Decode(body)
	if err != nil {
		s.metrics.Count(ctx, observability.MetricPaymentError)
		return err
	}
	ctx, span := observability.Tracer().Start(ctx, "payment.process")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", ev.OrderID))
	log := logging.FromContext(ctx).With(zap.String("order_id", ev.OrderID))

	outcome := s.decide(ctx, ev)
	res, err := s.ledger.Transition(ctx, ev.OrderID, orders.StatusPending, outcome)
	if err != nil {
		s.metrics.Count(ctx, observability.MetricPaymentError)
		return fmt.Errorf("settle order %s: %w", ev.OrderID, err)
	}

	switch res.Outcome {
	case orders.OrderMissing:
		log.Info("order not persisted yet, retrying later")
		return fmt.Errorf("order %s: %w", ev.OrderID, ErrOrderNotVisible)
	case orders.StatusMismatch:
		log.Info("order already settled", zap.String("status", string(res.Current)))
		switch res.Current {
		case orders.StatusPaid:
			return s.publishSuccess(ctx, ev)
		case orders.StatusFailed:
			// release tokens make a repeated release a no-op
			s.release(ctx, ev)
		}
		return nil
	}

	span.SetAttributes(attribute.String("payment.outcome", string(outcome)))
	if outcome == orders.StatusPaid {
		s.metrics.Count(ctx, observability.MetricPaymentSucceeded)
		log.Info("payment succeeded")
		return s.publishSuccess(ctx, ev)
	}

	s.metrics.Count(ctx, observability.MetricPaymentFailed)
	log.Info("payment failed, releasing stock")
	s.release(ctx, ev)
	return nil
}

func (s *Stage) publishSuccess(ctx context.Context, ev events.OrderPlacedEvent) error {
	if err := s.publisher.Publish(ctx, events.TypePaymentSuccess, events.PaymentSuccessEvent(ev)); err != nil {
		s.metrics.Count(ctx, observability.MetricPaymentError)
		return fmt.Errorf("publish payment success for %s: %w", ev.OrderID, err)
	}
	return nil
}

func (s *Stage) release(ctx context.Context, ev events.OrderPlacedEvent) {
	lines := make([]inventory.Line, 0, len(ev.Items))
	for _, it := range ev.Items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	for _, l := range inventory.MergeLines(lines) {
		err := s.releaser.Release(ctx, l.ProductID, l.Quantity, inventory.ReleaseToken(ev.OrderID, l.ProductID))
		if err != nil {
			s.metrics.Count(ctx, observability.MetricCompensationFailed)
			logging.FromContext(ctx).Error("stock release failed",
				zap.String("order_id", ev.OrderID),
				zap.String("product_id", l.ProductID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err))
		}
	}
}
