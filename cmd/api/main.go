package main

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/imrishuroy/cloudcart-orderflow/internal/app"
	"github.com/imrishuroy/cloudcart-orderflow/internal/config"
)

func main() {
	ctx := context.Background()
	c, err := app.NewContainer(ctx, "cloudcart-api", config.ComponentAPI)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer c.Shutdown(ctx)

	r := c.Router()
	gin.SetMode(gin.ReleaseMode)

	// if RUN_LOCAL=true, run a local HTTP server for development.
	if c.Config().RunLocal {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
		c.Logger().Info("running local server", zap.String("addr", c.Config().LocalAddr))
		if err := r.Run(c.Config().LocalAddr); err != nil && err != http.ErrServerClosed {
			c.Logger().Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
