// Package worker runs SQS batches through a per-message handler and reports
// partial batch failures.
package worker

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imrishuroy/cloudcart-orderflow/internal/aws"
	"github.com/imrishuroy/cloudcart-orderflow/internal/logging"
	"github.com/imrishuroy/cloudcart-orderflow/internal/observability"
)

// HandlerFunc processes one message body. A non-nil error asks for redelivery.
type HandlerFunc func(ctx context.Context, body string) error

// Processor handles SQS batch events for one pipeline stage.
type Processor struct {
	stage  string
	handle HandlerFunc
}

// NewProcessor creates a processor that routes every record to handle.
func NewProcessor(stage string, handle HandlerFunc) *Processor {
	return &Processor{stage: stage, handle: handle}
}

// Handle processes every record independently. Only the records that failed
// are listed in the response, so the rest of the batch is not redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	resp := events.SQSEventResponse{BatchItemFailures: []events.SQSBatchItemFailure{}}
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	if n := len(resp.BatchItemFailures); n > 0 {
		logging.FromContext(ctx).Warn("batch finished with failures",
			zap.String("stage", p.stage),
			zap.Int("records", len(ev.Records)),
			zap.Int("failed", n))
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) (err error) {
	carrier := attributeCarrier(rec.MessageAttributes)
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
	ctx = logging.WithCorrelationID(ctx, carrier.Get(aws.AttrCorrelationID))

	ctx, span := observability.Tracer().Start(ctx, p.stage+".message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "aws_sqs"),
			attribute.String("messaging.message.id", rec.MessageId),
		))
	defer span.End()

	log := logging.FromContext(ctx).With(zap.String("stage", p.stage), zap.String("message_id", rec.MessageId))

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing message", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := p.handle(ctx, rec.Body); err != nil {
		log.Error("message failed", zap.Error(err))
		return err
	}
	return nil
}

// attributeCarrier exposes SQS string attributes to the propagator.
type attributeCarrier map[string]events.SQSMessageAttribute

var _ propagation.TextMapCarrier = attributeCarrier(nil)

func (c attributeCarrier) Get(key string) string {
	if a, ok := c[key]; ok && a.StringValue != nil {
		return *a.StringValue
	}
	return ""
}

func (c attributeCarrier) Set(key, value string) {
	c[key] = events.SQSMessageAttribute{DataType: "String", StringValue: &value}
}

func (c attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
