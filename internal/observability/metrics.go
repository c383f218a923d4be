package observability

import (
	"context"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/imrishuroy/cloudcart-orderflow/internal/aws"
	"github.com/imrishuroy/cloudcart-orderflow/internal/logging"
)

// Business metric names.
const (
	MetricOrderPlaced        = "OrderPlaced"
	MetricOrderFailed        = "OrderFailed"
	MetricStockInsufficient  = "StockInsufficient"
	MetricPaymentSucceeded   = "PaymentSucceeded"
	MetricPaymentFailed      = "PaymentFailed"
	MetricPaymentError       = "PaymentError"
	MetricShipmentInitiated  = "ShipmentInitiated"
	MetricShipmentError      = "ShipmentError"
	MetricCompensationFailed = "CompensationFailed"
)

// Metrics counts business events. Implementations never fail the caller.
type Metrics interface {
	Count(ctx context.Context, name string)
}

// Nop discards every metric.
type Nop struct{}

// Count implements Metrics.
func (Nop) Count(context.Context, string) {}

// CloudWatchMetrics publishes one datapoint per event.
type CloudWatchMetrics struct {
	client    aws.CloudWatchAPI
	namespace string
	service   string
}

// NewCloudWatchMetrics returns a CloudWatch-backed sink.
func NewCloudWatchMetrics(client aws.CloudWatchAPI, namespace, service string) *CloudWatchMetrics {
	return &CloudWatchMetrics{client: client, namespace: namespace, service: service}
}

// Count implements Metrics. Errors are logged.
func (m *CloudWatchMetrics) Count(ctx context.Context, name string) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: sdkaws.String(name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      sdkaws.Float64(1),
			Dimensions: []cwtypes.Dimension{{
				Name:  sdkaws.String("Service"),
				Value: sdkaws.String(m.service),
			}},
		}},
	})
	if err != nil {
		logging.FromContext(ctx).Warn("put metric failed", zap.String("metric", name), zap.Error(err))
	}
}

// PrometheusMetrics keeps a counter vector labelled by event name.
type PrometheusMetrics struct {
	events *prometheus.CounterVec
}

var (
	promOnce    sync.Once
	promDefault *PrometheusMetrics
)

// NewPrometheusMetrics registers the counter vector on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloudcart",
		Name:      "events_total",
		Help:      "Business events by name.",
	}, []string{"event"})
	reg.MustRegister(events)
	return &PrometheusMetrics{events: events}
}

// DefaultPrometheusMetrics registers once on the default registry served by promhttp.Handler.
func DefaultPrometheusMetrics() *PrometheusMetrics {
	promOnce.Do(func() {
		promDefault = NewPrometheusMetrics(prometheus.DefaultRegisterer)
	})
	return promDefault
}

// Count implements Metrics.
func (m *PrometheusMetrics) Count(_ context.Context, name string) {
	m.events.WithLabelValues(name).Inc()
}
