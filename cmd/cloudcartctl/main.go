package main

import (
	"context"
	"os"

	"github.com/imrishuroy/cloudcart-orderflow/internal/app"
	"github.com/imrishuroy/cloudcart-orderflow/internal/config"
)

func main() {
	rootCmd := newRootCmd(func(ctx context.Context) (*stores, error) {
		c, err := app.NewContainer(ctx, "cloudcartctl", config.ComponentCLI)
		if err != nil {
			return nil, err
		}
		return &stores{products: c.Products(), orders: c.Orders()}, nil
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
