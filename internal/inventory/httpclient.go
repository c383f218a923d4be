package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/cloudcart-orderflow/internal/logging"
	"github.com/imrishuroy/cloudcart-orderflow/internal/observability"
)

// StockPatch is the body of PATCH /products/{id}/stock. Exactly one of
// Reserve, Release or Stock is set.
type StockPatch struct {
	Reserve *int   `json:"reserve,omitempty"`
	Release *int   `json:"release,omitempty"`
	Token   string `json:"token,omitempty"`
	Stock   *int   `json:"stock,omitempty"`
}

// HTTPClient is a StockClient backed by the product stock API.
type HTTPClient struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	tracer     trace.Tracer
}

// NewHTTPClient returns a client for baseURL; every call is bounded by timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		timeout: timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
		tracer: observability.Tracer(),
	}
}

var _ StockClient = (*HTTPClient)(nil)

// Reserve implements StockClient.
func (c *HTTPClient) Reserve(ctx context.Context, productID string, quantity int) error {
	return c.patch(ctx, productID, StockPatch{Reserve: &quantity})
}

// Release implements StockClient.
func (c *HTTPClient) Release(ctx context.Context, productID string, quantity int, token string) error {
	return c.patch(ctx, productID, StockPatch{Release: &quantity, Token: token})
}

func (c *HTTPClient) patch(ctx context.Context, productID string, body StockPatch) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := fmt.Sprintf("%s/products/%s/stock", c.baseURL, url.PathEscape(productID))
	ctx, span := c.tracer.Start(ctx, "stock.patch", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.url", target),
		attribute.String("http.method", http.MethodPatch),
		attribute.String("product.id", productID),
	)

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal stock patch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, target, bytes.NewReader(payload))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("build stock request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := logging.CorrelationID(ctx); id != "" {
		req.Header.Set(logging.CorrelationHeader, id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, http.MethodPatch, target, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s: %w", productID, ErrInsufficientStock)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", productID, ErrProductNotFound)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		err = fmt.Errorf("%w: stock service returned %s", ErrUnavailable, resp.Status)
	default:
		err = fmt.Errorf("%w: stock service returned %s", ErrBadGateway, resp.Status)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
