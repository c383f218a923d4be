package aws_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	internalaws "github.com/imrishuroy/cloudcart-orderflow/internal/aws"
	"github.com/imrishuroy/cloudcart-orderflow/internal/logging"
	"github.com/imrishuroy/cloudcart-orderflow/internal/testutil/sqsfake"
)

func TestPublish_CarriesCorrelationAndTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	fake := sqsfake.New()
	pub := internalaws.NewPublisher(fake, "https://sqs.local/orders")

	ctx := logging.WithCorrelationID(context.Background(), "corr-1")
	ctx, span := tp.Tracer("test").Start(ctx, "publish")
	defer span.End()

	err := pub.Publish(ctx, "OrderPlaced", map[string]string{"orderId": "o-1"})
	require.NoError(t, err)

	sent := fake.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "https://sqs.local/orders", sent[0].QueueURL)
	assert.Equal(t, "corr-1", sent[0].Attributes[internalaws.AttrCorrelationID])
	assert.Equal(t, "OrderPlaced", sent[0].Attributes[internalaws.AttrEventType])
	assert.Contains(t, sent[0].Attributes["traceparent"], span.SpanContext().TraceID().String())

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(sent[0].Body), &body))
	assert.Equal(t, "o-1", body["orderId"])
}

func TestPublish_ReturnsSendError(t *testing.T) {
	fake := sqsfake.New()
	fake.Err = errors.New("queue down")
	pub := internalaws.NewPublisher(fake, "q")

	err := pub.Publish(context.Background(), "OrderPlaced", struct{}{})
	require.Error(t, err)
	assert.ErrorIs(t, err, fake.Err)
}
