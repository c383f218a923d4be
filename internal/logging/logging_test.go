package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc")
	assert.Equal(t, "abc", CorrelationID(ctx))

	generated := CorrelationID(WithCorrelationID(context.Background(), ""))
	assert.Len(t, generated, 36)

	assert.Empty(t, CorrelationID(context.Background()))
}

func TestFromContextAddsCorrelationID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	prev := base
	base = zap.New(core)
	t.Cleanup(func() { base = prev })

	FromContext(WithCorrelationID(context.Background(), "corr-1")).Info("hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "corr-1", entries[0].ContextMap()["correlation_id"])
	}
}
