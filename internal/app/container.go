// Package app wires configuration, AWS clients and the domain services of
// each binary.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/cloudcart-orderflow/internal/aws"
	"github.com/imrishuroy/cloudcart-orderflow/internal/config"
	"github.com/imrishuroy/cloudcart-orderflow/internal/handlers"
	"github.com/imrishuroy/cloudcart-orderflow/internal/idempotency"
	"github.com/imrishuroy/cloudcart-orderflow/internal/inventory"
	"github.com/imrishuroy/cloudcart-orderflow/internal/logging"
	"github.com/imrishuroy/cloudcart-orderflow/internal/observability"
	"github.com/imrishuroy/cloudcart-orderflow/internal/orders"
	"github.com/imrishuroy/cloudcart-orderflow/internal/payment"
	"github.com/imrishuroy/cloudcart-orderflow/internal/retry"
	"github.com/imrishuroy/cloudcart-orderflow/internal/saga"
	"github.com/imrishuroy/cloudcart-orderflow/internal/shipment"
	"github.com/imrishuroy/cloudcart-orderflow/internal/worker"
)

// Container holds expensive-to-create singleton resources and dependencies.
// It is built once per process and reused across invocations.
type Container struct {
	config        *config.Config
	logger        *zap.Logger
	clients       *aws.AWSClients
	metrics       observability.Metrics
	traceShutdown func(context.Context) error
}

// NewContainer loads configuration for component, sets up logging and
// tracing, and builds the AWS clients.
func NewContainer(ctx context.Context, service, component string) (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ValidateFor(component); err != nil {
		return nil, err
	}

	logger := logging.New(service)

	shutdown, err := observability.SetupTracing(ctx, service, cfg.OtelEndpoint)
	if err != nil {
		logger.Error("failed to setup OpenTelemetry tracing", zap.Error(err))
	}

	clients, err := aws.NewAWSClients(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init aws clients: %w", err)
	}

	c := New(cfg, clients, logger, service)
	c.traceShutdown = shutdown
	return c, nil
}

// New assembles a Container from ready-made parts. Metrics go to Prometheus
// when running locally and to CloudWatch otherwise.
func New(cfg *config.Config, clients *aws.AWSClients, logger *zap.Logger, service string) *Container {
	var m observability.Metrics = observability.Nop{}
	switch {
	case cfg.RunLocal:
		m = observability.DefaultPrometheusMetrics()
	case clients.CloudWatch != nil:
		m = observability.NewCloudWatchMetrics(clients.CloudWatch, cfg.MetricsNamespace, service)
	}
	return &Container{config: cfg, logger: logger, clients: clients, metrics: m}
}

// Config returns the loaded configuration.
func (c *Container) Config() *config.Config { return c.config }

// Logger returns the process logger.
func (c *Container) Logger() *zap.Logger { return c.logger }

// Metrics returns the metrics sink.
func (c *Container) Metrics() observability.Metrics { return c.metrics }

// Orders returns the order ledger.
func (c *Container) Orders() *orders.Store {
	return orders.NewStore(c.clients.DynamoDB, c.config.OrdersTable, c.config.OrdersUserIndex)
}

// Products returns the products table store.
func (c *Container) Products() *inventory.Store {
	return inventory.NewStore(c.clients.DynamoDB, c.config.ProductsTable)
}

func (c *Container) releasePolicy() retry.Policy {
	return retry.Policy{MaxRetries: c.config.StockReleaseMaxRetries, InitialInterval: retry.Default.InitialInterval}
}

// Coordinator returns the stock coordinator for the configured strategy. The
// saga strategy talks to the stock API when PRODUCTS_API_URL is set.
func (c *Container) Coordinator() inventory.Coordinator {
	if c.config.ReservationStrategy == config.StrategySaga {
		var client inventory.StockClient = c.Products()
		if c.config.ProductsAPIURL != "" {
			client = inventory.NewHTTPClient(c.config.ProductsAPIURL, c.config.StockHTTPTimeout)
		}
		return inventory.NewSequentialCoordinator(client, c.releasePolicy())
	}
	return inventory.NewAtomicCoordinator(c.clients.DynamoDB, c.config.ProductsTable, c.releasePolicy())
}

// Saga returns the order placement saga.
func (c *Container) Saga() *saga.Saga {
	return saga.New(saga.Deps{
		Guard:        idempotency.NewStore(c.clients.DynamoDB, c.config.IdempotencyTable, c.config.IdempotencyTTL),
		Coordinator:  c.Coordinator(),
		Ledger:       c.Orders(),
		Publisher:    aws.NewPublisher(c.clients.SQS, c.config.OrderQueueURL),
		Metrics:      c.metrics,
		PersistRetry: retry.Default,
	})
}

// Router returns the HTTP API.
func (c *Container) Router() *gin.Engine {
	return handlers.NewRouter(handlers.Deps{
		Placer: c.Saga(),
		Orders: c.Orders(),
		Stock:  c.Products(),
	})
}

// PaymentProcessor returns the batch handler of the payment stage. Stock is
// released through the stock API when PRODUCTS_API_URL is set.
func (c *Container) PaymentProcessor() *worker.Processor {
	var releaser payment.Releaser = c.Coordinator()
	if c.config.ProductsAPIURL != "" {
		releaser = inventory.NewSequentialCoordinator(
			inventory.NewHTTPClient(c.config.ProductsAPIURL, c.config.StockHTTPTimeout), c.releasePolicy())
	}
	stage := payment.NewStage(
		c.Orders(),
		releaser,
		aws.NewPublisher(c.clients.SQS, c.config.PaymentSuccessQueueURL),
		payment.RandomDecider(c.config.PaymentSuccessRate),
		c.metrics,
	)
	return worker.NewProcessor("payment", stage.Handle)
}

// ShipmentProcessor returns the batch handler of the shipment stage.
func (c *Container) ShipmentProcessor() *worker.Processor {
	return worker.NewProcessor("shipment", shipment.NewStage(c.Orders(), c.metrics).Handle)
}

// Shutdown flushes traces and the logger.
func (c *Container) Shutdown(ctx context.Context) {
	if c.traceShutdown != nil {
		if err := c.traceShutdown(ctx); err != nil {
			c.logger.Error("failed to shutdown OTel tracing", zap.Error(err))
		}
	}
	_ = c.logger.Sync()
}
