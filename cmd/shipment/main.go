package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/cloudcart-orderflow/internal/app"
	"github.com/imrishuroy/cloudcart-orderflow/internal/config"
)

func main() {
	ctx := context.Background()
	c, err := app.NewContainer(ctx, "cloudcart-shipment", config.ComponentShipment)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer c.Shutdown(ctx)

	processor := c.ShipmentProcessor()

	// If RUN_LOCAL=true, process a single simulated SQS message from LOCAL_SQS_BODY.
	if c.Config().RunLocal {
		body := c.Config().LocalSQSBody
		if body == "" {
			c.Logger().Fatal("LOCAL_SQS_BODY is required when RUN_LOCAL=true")
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: body},
			},
		}
		resp, err := processor.Handle(ctx, event)
		if err != nil {
			c.Logger().Fatal("local handler error", zap.Error(err))
		}
		c.Logger().Info("local batch processed", zap.Int("failed", len(resp.BatchItemFailures)))
		return
	}

	lambda.Start(processor.Handle)
}
