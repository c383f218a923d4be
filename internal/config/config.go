// Package config reads the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Reservation strategies.
const (
	StrategyAtomic = "atomic"
	StrategySaga   = "saga"
)

// Components passed to ValidateFor.
const (
	ComponentAPI      = "api"
	ComponentPayment  = "payment"
	ComponentShipment = "shipment"
	ComponentCLI      = "cli"
)

// Config holds every setting the binaries read.
type Config struct {
	Region           string
	EndpointOverride string

	IdempotencyTable string
	OrdersTable      string
	OrdersUserIndex  string
	ProductsTable    string

	OrderQueueURL          string
	PaymentSuccessQueueURL string
	ProductsAPIURL         string

	ReservationStrategy    string
	IdempotencyTTL         time.Duration
	StockHTTPTimeout       time.Duration
	StockReleaseMaxRetries uint64
	PaymentSuccessRate     float64

	MetricsNamespace string
	OtelEndpoint     string

	RunLocal     bool
	LocalAddr    string
	LocalSQSBody string
}

// Load reads the environment and fails on malformed values. Missing values
// are reported by ValidateFor.
func Load() (*Config, error) {
	cfg := &Config{
		Region:                 getenv("AWS_REGION", "us-east-1"),
		EndpointOverride:       os.Getenv("AWS_ENDPOINT_OVERRIDE"),
		IdempotencyTable:       os.Getenv("IDEMPOTENCY_TABLE"),
		OrdersTable:            os.Getenv("ORDERS_TABLE"),
		OrdersUserIndex:        getenv("ORDERS_USER_INDEX", "user_id-index"),
		ProductsTable:          os.Getenv("PRODUCTS_TABLE"),
		OrderQueueURL:          os.Getenv("ORDER_QUEUE_URL"),
		PaymentSuccessQueueURL: os.Getenv("PAYMENT_SUCCESS_QUEUE_URL"),
		ProductsAPIURL:         strings.TrimRight(os.Getenv("PRODUCTS_API_URL"), "/"),
		ReservationStrategy:    strings.ToLower(getenv("RESERVATION_STRATEGY", StrategyAtomic)),
		MetricsNamespace:       getenv("METRICS_NAMESPACE", "CloudCart"),
		OtelEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LocalAddr:              getenv("LOCAL_ADDR", ":8080"),
		LocalSQSBody:           os.Getenv("LOCAL_SQS_BODY"),
	}

	var errs []error
	var err error

	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		errs = append(errs, err)
	}
	if cfg.StockHTTPTimeout, err = durationEnv("STOCK_HTTP_TIMEOUT", 3*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.StockReleaseMaxRetries, err = uintEnv("STOCK_RELEASE_MAX_RETRIES", 3); err != nil {
		errs = append(errs, err)
	}
	if cfg.PaymentSuccessRate, err = floatEnv("PAYMENT_SUCCESS_RATE", 0.8); err != nil {
		errs = append(errs, err)
	} else if cfg.PaymentSuccessRate < 0 || cfg.PaymentSuccessRate > 1 {
		errs = append(errs, fmt.Errorf("PAYMENT_SUCCESS_RATE must be within [0,1], got %v", cfg.PaymentSuccessRate))
	}
	if cfg.RunLocal, err = boolEnv("RUN_LOCAL", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.ReservationStrategy != StrategyAtomic && cfg.ReservationStrategy != StrategySaga {
		errs = append(errs, fmt.Errorf("RESERVATION_STRATEGY must be %q or %q, got %q", StrategyAtomic, StrategySaga, cfg.ReservationStrategy))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// ValidateFor reports the settings component needs but does not have.
func (c *Config) ValidateFor(component string) error {
	var missing []string
	need := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	switch component {
	case ComponentAPI:
		need("IDEMPOTENCY_TABLE", c.IdempotencyTable)
		need("ORDERS_TABLE", c.OrdersTable)
		need("PRODUCTS_TABLE", c.ProductsTable)
		need("ORDER_QUEUE_URL", c.OrderQueueURL)
	case ComponentPayment:
		need("ORDERS_TABLE", c.OrdersTable)
		need("PAYMENT_SUCCESS_QUEUE_URL", c.PaymentSuccessQueueURL)
		if c.ProductsAPIURL == "" {
			need("PRODUCTS_TABLE", c.ProductsTable)
		}
	case ComponentShipment:
		need("ORDERS_TABLE", c.OrdersTable)
	case ComponentCLI:
		need("ORDERS_TABLE", c.OrdersTable)
		need("PRODUCTS_TABLE", c.ProductsTable)
	default:
		return fmt.Errorf("unknown component %q", component)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables for %s: %s", component, strings.Join(missing, ", "))
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return d, nil
}

func uintEnv(key string, def uint64) (uint64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
