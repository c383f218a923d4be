package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/cloudcart-orderflow/internal/logging"
)

func strAttr(v string) events.SQSMessageAttribute {
	return events.SQSMessageAttribute{DataType: "String", StringValue: &v}
}

func TestProcessor_ReportsOnlyFailedRecords(t *testing.T) {
	var seen []string
	p := NewProcessor("test", func(ctx context.Context, body string) error {
		seen = append(seen, body)
		switch body {
		case "bad":
			return errors.New("boom")
		case "panic":
			panic("unexpected")
		}
		return nil
	})

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m-1", Body: "ok"},
		{MessageId: "m-2", Body: "bad"},
		{MessageId: "m-3", Body: "panic"},
		{MessageId: "m-4", Body: "ok"},
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{"ok", "bad", "panic", "ok"}, seen)
	assert.Equal(t, []events.SQSBatchItemFailure{
		{ItemIdentifier: "m-2"},
		{ItemIdentifier: "m-3"},
	}, resp.BatchItemFailures)
}

func TestProcessor_EmptyResponseOnSuccess(t *testing.T) {
	p := NewProcessor("test", func(context.Context, string) error { return nil })

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{{MessageId: "m-1"}}})
	require.NoError(t, err)
	assert.NotNil(t, resp.BatchItemFailures)
	assert.Empty(t, resp.BatchItemFailures)
}

func TestProcessor_RestoresCorrelationAndTrace(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	var corr, traceID string
	p := NewProcessor("test", func(ctx context.Context, _ string) error {
		corr = logging.CorrelationID(ctx)
		traceID = trace.SpanContextFromContext(ctx).TraceID().String()
		return nil
	})

	_, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{{
		MessageId: "m-1",
		MessageAttributes: map[string]events.SQSMessageAttribute{
			"correlation_id": strAttr("corr-42"),
			"traceparent":    strAttr("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"),
		},
	}}})
	require.NoError(t, err)

	assert.Equal(t, "corr-42", corr)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", traceID)
}

func TestProcessor_GeneratesCorrelationWhenMissing(t *testing.T) {
	var corr string
	p := NewProcessor("test", func(ctx context.Context, _ string) error {
		corr = logging.CorrelationID(ctx)
		return nil
	})

	_, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{{MessageId: "m-1"}}})
	require.NoError(t, err)
	assert.NotEmpty(t, corr)
}
