package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"AWS_REGION", "IDEMPOTENCY_TABLE", "ORDERS_TABLE", "ORDERS_USER_INDEX", "PRODUCTS_TABLE",
		"ORDER_QUEUE_URL", "PAYMENT_SUCCESS_QUEUE_URL", "PRODUCTS_API_URL", "RESERVATION_STRATEGY",
		"IDEMPOTENCY_TTL", "STOCK_HTTP_TIMEOUT", "STOCK_RELEASE_MAX_RETRIES", "PAYMENT_SUCCESS_RATE",
		"RUN_LOCAL", "LOCAL_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "user_id-index", cfg.OrdersUserIndex)
	assert.Equal(t, StrategyAtomic, cfg.ReservationStrategy)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 3*time.Second, cfg.StockHTTPTimeout)
	assert.Equal(t, uint64(3), cfg.StockReleaseMaxRetries)
	assert.InDelta(t, 0.8, cfg.PaymentSuccessRate, 1e-9)
	assert.False(t, cfg.RunLocal)
	assert.Equal(t, ":8080", cfg.LocalAddr)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RESERVATION_STRATEGY", "SAGA")
	t.Setenv("IDEMPOTENCY_TTL", "1h")
	t.Setenv("PAYMENT_SUCCESS_RATE", "1")
	t.Setenv("PRODUCTS_API_URL", "http://stock.local/")
	t.Setenv("RUN_LOCAL", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StrategySaga, cfg.ReservationStrategy)
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL)
	assert.InDelta(t, 1.0, cfg.PaymentSuccessRate, 1e-9)
	assert.Equal(t, "http://stock.local", cfg.ProductsAPIURL)
	assert.True(t, cfg.RunLocal)
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("RESERVATION_STRATEGY", "two-phase")
	t.Setenv("STOCK_HTTP_TIMEOUT", "soon")
	t.Setenv("PAYMENT_SUCCESS_RATE", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESERVATION_STRATEGY")
	assert.Contains(t, err.Error(), "STOCK_HTTP_TIMEOUT")
	assert.Contains(t, err.Error(), "PAYMENT_SUCCESS_RATE")
}

func TestValidateFor(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.ValidateFor(ComponentAPI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IDEMPOTENCY_TABLE")
	assert.Contains(t, err.Error(), "ORDER_QUEUE_URL")

	cfg.OrdersTable = "orders"
	assert.NoError(t, cfg.ValidateFor(ComponentShipment))

	cfg.ProductsAPIURL = "http://stock.local"
	cfg.PaymentSuccessQueueURL = "q"
	assert.NoError(t, cfg.ValidateFor(ComponentPayment))

	assert.Error(t, cfg.ValidateFor("billing"))
}
