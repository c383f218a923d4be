package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Deps are the collaborators behind the HTTP API. Stock may be nil when the
// products table is served elsewhere.
type Deps struct {
	Placer Placer
	Orders OrderReader
	Stock  StockService
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), Correlation(), Tracing(), AccessLog())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterOrdersRoutes(r, d.Placer, d.Orders)
	if d.Stock != nil {
		RegisterStockRoutes(r, d.Stock)
	}
	return r
}
