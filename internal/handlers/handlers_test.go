package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/cloudcart-orderflow/internal/inventory"
	"github.com/imrishuroy/cloudcart-orderflow/internal/logging"
	"github.com/imrishuroy/cloudcart-orderflow/internal/money"
	"github.com/imrishuroy/cloudcart-orderflow/internal/orders"
	"github.com/imrishuroy/cloudcart-orderflow/internal/saga"
	"github.com/imrishuroy/cloudcart-orderflow/internal/testutil/dynamofake"
	"github.com/imrishuroy/cloudcart-orderflow/internal/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingPlacer struct {
	key  string
	req  validation.PlaceOrderRequest
	corr string
	resp saga.Response
}

func (p *recordingPlacer) Place(ctx context.Context, key string, req validation.PlaceOrderRequest) saga.Response {
	p.key, p.req, p.corr = key, req, logging.CorrelationID(ctx)
	return p.resp
}

type env struct {
	router *gin.Engine
	placer *recordingPlacer
	orders *orders.Store
	db     *dynamofake.Client
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := dynamofake.New()
	db.CreateTable("orders", "order_id")
	db.CreateTable("products", "product_id")
	store := orders.NewStore(db, "orders", "user_id-index")
	placer := &recordingPlacer{resp: saga.Response{StatusCode: 201, Body: []byte(`{"orderId":"o-1"}`)}}
	r := NewRouter(Deps{Placer: placer, Orders: store, Stock: inventory.NewStore(db, "products")})
	return &env{router: r, placer: placer, orders: store, db: db}
}

func (e *env) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) seedOrder(t *testing.T, id, user string) {
	t.Helper()
	items := []orders.Item{{ProductID: "p-1", Quantity: 1, Price: money.FromFloat(2.5)}}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, e.orders.Create(context.Background(), orders.Order{
		OrderID: id, UserID: user, Items: items, TotalAmount: orders.Total(items),
		Status: orders.StatusPending, CreatedAt: now, UpdatedAt: now,
	}))
}

func TestHealth(t *testing.T) {
	w := newEnv(t).do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestPostOrder_PassesKeyAndWritesSagaResponse(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/orders",
		`{"userId":"u-1","items":[{"productId":"p-1","quantity":2,"price":3.5}]}`,
		map[string]string{IdempotencyHeader: "key-1", logging.CorrelationHeader: "corr-1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `{"orderId":"o-1"}`, w.Body.String())
	assert.Equal(t, "corr-1", w.Header().Get(logging.CorrelationHeader))
	assert.Equal(t, "key-1", e.placer.key)
	assert.Equal(t, "corr-1", e.placer.corr)
	assert.Equal(t, "u-1", e.placer.req.UserID)
	require.Len(t, e.placer.req.Items, 1)
	assert.Equal(t, 2, e.placer.req.Items[0].Quantity)
}

func TestPostOrder_ReplayHeader(t *testing.T) {
	e := newEnv(t)
	e.placer.resp = saga.Response{StatusCode: 201, Body: []byte(`{"orderId":"o-1"}`), Replayed: true}

	w := e.do(http.MethodPost, "/orders", `{"userId":"u-1","items":[]}`, nil)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
}

func TestPostOrder_MalformedBody(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/orders", `{"userId":`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid request body")
	assert.Empty(t, e.placer.key)
}

func TestCorrelation_RequestIDFallbackAndGenerated(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/health", "", map[string]string{RequestIDHeader: "req-9"})
	assert.Equal(t, "req-9", w.Header().Get(logging.CorrelationHeader))

	w = e.do(http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, w.Header().Get(logging.CorrelationHeader))
}

func TestGetOrder(t *testing.T) {
	e := newEnv(t)
	e.seedOrder(t, "o-1", "u-1")

	tests := []struct {
		name string
		path string
		code int
	}{
		{"owner", "/orders/o-1?userId=u-1", http.StatusOK},
		{"missing user", "/orders/o-1", http.StatusBadRequest},
		{"other user", "/orders/o-1?userId=u-2", http.StatusForbidden},
		{"unknown order", "/orders/nope?userId=u-1", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := e.do(http.MethodGet, tc.path, "", nil)
			assert.Equal(t, tc.code, w.Code)
		})
	}

	w := e.do(http.MethodGet, "/orders/o-1?userId=u-1", "", nil)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "o-1", got["orderId"])
	assert.Equal(t, "PENDING", got["status"])
	assert.Equal(t, 2.5, got["totalAmount"])
}

func TestListOrders(t *testing.T) {
	e := newEnv(t)
	e.seedOrder(t, "o-1", "u-1")
	e.seedOrder(t, "o-2", "u-2")
	e.seedOrder(t, "o-3", "u-1")

	w := e.do(http.MethodGet, "/orders?userId=u-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Orders []orders.Order `json:"orders"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Count)

	w = e.do(http.MethodGet, "/orders?userId=nobody", "", nil)
	assert.JSONEq(t, `{"orders":[],"count":0}`, w.Body.String())

	w = e.do(http.MethodGet, "/orders", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStockEndpoint(t *testing.T) {
	e := newEnv(t)
	stockOf := func() int {
		n, err := strconv.Atoi(e.db.Item("products", "p-1")["stock"].(*types.AttributeValueMemberN).Value)
		require.NoError(t, err)
		return n
	}

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/products/p-1/stock", "", nil).Code)

	assert.Equal(t, http.StatusOK, e.do(http.MethodPatch, "/products/p-1/stock", `{"stock":3}`, nil).Code)
	w := e.do(http.MethodGet, "/products/p-1/stock", "", nil)
	assert.JSONEq(t, `{"productId":"p-1","stock":3}`, w.Body.String())

	assert.Equal(t, http.StatusOK, e.do(http.MethodPatch, "/products/p-1/stock", `{"reserve":2}`, nil).Code)
	assert.Equal(t, http.StatusConflict, e.do(http.MethodPatch, "/products/p-1/stock", `{"reserve":2}`, nil).Code)
	assert.Equal(t, 1, stockOf())

	release := `{"release":2,"token":"o-1#p-1"}`
	assert.Equal(t, http.StatusOK, e.do(http.MethodPatch, "/products/p-1/stock", release, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodPatch, "/products/p-1/stock", release, nil).Code)
	assert.Equal(t, 3, stockOf())

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPatch, "/products/ghost/stock", `{"reserve":1}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPatch, "/products/p-1/stock", `{"reserve":1,"stock":4}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPatch, "/products/p-1/stock", `{"reserve":0}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPatch, "/products/p-1/stock", `{}`, nil).Code)
}
