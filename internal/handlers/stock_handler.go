package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/cloudcart-orderflow/internal/inventory"
	"github.com/imrishuroy/cloudcart-orderflow/internal/logging"
)

// StockService is the products table seen by the stock endpoint.
type StockService interface {
	Get(ctx context.Context, productID string) (*inventory.Product, error)
	SetStock(ctx context.Context, productID string, stock int) error
	Reserve(ctx context.Context, productID string, quantity int) error
	Release(ctx context.Context, productID string, quantity int, token string) error
}

// RegisterStockRoutes registers the product stock endpoints used by the
// sequential reservation strategy and by operators.
func RegisterStockRoutes(r gin.IRouter, stock StockService) {
	r.GET("/products/:productId/stock", func(c *gin.Context) {
		p, err := stock.Get(c.Request.Context(), c.Param("productId"))
		if err != nil {
			writeStockError(c, err)
			return
		}
		if p == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		c.JSON(http.StatusOK, p)
	})

	r.PATCH("/products/:productId/stock", func(c *gin.Context) {
		productID := c.Param("productId")
		var body inventory.StockPatch
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if msg := checkPatch(body); msg != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}

		ctx := c.Request.Context()
		var err error
		switch {
		case body.Reserve != nil:
			err = stock.Reserve(ctx, productID, *body.Reserve)
		case body.Release != nil:
			err = stock.Release(ctx, productID, *body.Release, body.Token)
		default:
			err = stock.SetStock(ctx, productID, *body.Stock)
		}
		if err != nil {
			writeStockError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"productId": productID, "status": "ok"})
	})
}

func checkPatch(p inventory.StockPatch) string {
	set := 0
	for _, v := range []*int{p.Reserve, p.Release, p.Stock} {
		if v != nil {
			set++
		}
	}
	switch {
	case set != 1:
		return "exactly one of reserve, release or stock is required"
	case p.Reserve != nil && *p.Reserve < 1:
		return "reserve must be >= 1"
	case p.Release != nil && *p.Release < 1:
		return "release must be >= 1"
	case p.Stock != nil && *p.Stock < 0:
		return "stock must be >= 0"
	}
	return ""
}

func writeStockError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, inventory.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": "Insufficient stock"})
	case errors.Is(err, inventory.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
	case errors.Is(err, inventory.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Stock store unavailable"})
	default:
		logging.FromContext(c.Request.Context()).Error("stock request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stock request failed"})
	}
}
