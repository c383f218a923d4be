// Package shipment ships paid orders.
package shipment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/imrishuroy/cloudcart-orderflow/internal/events"
	"github.com/imrishuroy/cloudcart-orderflow/internal/logging"
	"github.com/imrishuroy/cloudcart-orderflow/internal/observability"
	"github.com/imrishuroy/cloudcart-orderflow/internal/orders"
)

// Ledger records shipments with a conditional PAID -> SHIPPED write.
type Ledger interface {
	Ship(ctx context.Context, orderID string, shipment orders.Shipment) (orders.TransitionResult, error)
}

// NewTrackingID returns "TRK-" followed by eight upper-case hex characters.
func NewTrackingID() string {
	return "TRK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Stage is the shipment consumer.
type Stage struct {
	ledger     Ledger
	metrics    observability.Metrics
	trackingID func() string
	nowFunc    func() time.Time
}

// NewStage returns a Stage. A nil Metrics discards metrics.
func NewStage(ledger Ledger, m observability.Metrics) *Stage {
	if m == nil {
		m = observability.Nop{}
	}
	return &Stage{ledger: ledger, metrics: m, trackingID: NewTrackingID, nowFunc: time.Now}
}

// Handle processes one PaymentSuccess message body.
func (s *Stage) Handle(ctx context.Context, body string) error {
	ev, err := events.Decode(body)
	if err != nil {
		s.metrics.Count(ctx, observability.MetricShipmentError)
		return err
	}
	ctx, span := observability.Tracer().Start(ctx, "shipment.process")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", ev.OrderID))
	log := logging.FromContext(ctx).With(zap.String("order_id", ev.OrderID))

	shipment := orders.Shipment{TrackingID: s.trackingID(), ShippedAt: s.nowFunc().UTC()}
	res, err := s.ledger.Ship(ctx, ev.OrderID, shipment)
	if err != nil {
		s.metrics.Count(ctx, observability.MetricShipmentError)
		return fmt.Errorf("ship order %s: %w", ev.OrderID, err)
	}

	switch res.Outcome {
	case orders.Applied:
		s.metrics.Count(ctx, observability.MetricShipmentInitiated)
		span.SetAttributes(attribute.String("shipment.tracking_id", shipment.TrackingID))
		log.Info("shipment initiated", zap.String("tracking_id", shipment.TrackingID))
	case orders.OrderMissing:
		log.Warn("order not found, skipping shipment")
	default:
		log.Info("order not shippable, skipping", zap.String("status", string(res.Current)))
	}
	return nil
}
