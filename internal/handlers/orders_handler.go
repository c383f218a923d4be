package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/cloudcart-orderflow/internal/logging"
	"github.com/imrishuroy/cloudcart-orderflow/internal/orders"
	"github.com/imrishuroy/cloudcart-orderflow/internal/saga"
	"github.com/imrishuroy/cloudcart-orderflow/internal/validation"
)

// IdempotencyHeader carries the client's idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// Placer runs the order placement saga.
type Placer interface {
	Place(ctx context.Context, key string, req validation.PlaceOrderRequest) saga.Response
}

// OrderReader reads orders for the query endpoints.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	ListByUser(ctx context.Context, userID string) ([]orders.Order, error)
}

// RegisterOrdersRoutes registers routes for order API.
func RegisterOrdersRoutes(r gin.IRouter, placer Placer, reader OrderReader) {
	r.POST("/orders", func(c *gin.Context) {
		var req validation.PlaceOrderRequest
		if err := validation.BindJSON(c, &req); err != nil {
			// BindJSON already wrote a 400
			return
		}
		resp := placer.Place(c.Request.Context(), c.GetHeader(IdempotencyHeader), req)
		if resp.Replayed {
			c.Header("Idempotent-Replayed", "true")
		}
		c.Data(resp.StatusCode, "application/json; charset=utf-8", resp.Body)
	})

	r.GET("/orders/:orderId", func(c *gin.Context) {
		userID := c.Query("userId")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId query parameter is required"})
			return
		}
		o, err := reader.Get(c.Request.Context(), c.Param("orderId"))
		if err != nil {
			logging.FromContext(c.Request.Context()).Error("get order failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get order"})
			return
		}
		if o == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		if o.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "Order does not belong to this user"})
			return
		}
		c.JSON(http.StatusOK, o)
	})

	r.GET("/orders", func(c *gin.Context) {
		userID := c.Query("userId")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId query parameter is required"})
			return
		}
		list, err := reader.ListByUser(c.Request.Context(), userID)
		if err != nil {
			logging.FromContext(c.Request.Context()).Error("list orders failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list orders"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": list, "count": len(list)})
	})
}
