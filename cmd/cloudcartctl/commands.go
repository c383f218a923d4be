package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/cloudcart-orderflow/internal/inventory"
	"github.com/imrishuroy/cloudcart-orderflow/internal/orders"
)

type productStore interface {
	Get(ctx context.Context, productID string) (*inventory.Product, error)
	SetStock(ctx context.Context, productID string, stock int) error
}

type orderStore interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	ListByUser(ctx context.Context, userID string) ([]orders.Order, error)
}

type stores struct {
	products productStore
	orders   orderStore
}

type loader func(ctx context.Context) (*stores, error)

func newRootCmd(load loader) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "cloudcartctl",
		Short:        "inspect and seed CloudCart tables",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		stockCommand(load),
		orderCommand(load),
	)
	return rootCmd
}

func stockCommand(load loader) *cobra.Command {
	cmd := &cobra.Command{Use: "stock", Short: "read or set product stock"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get [productId]",
			Short: "print the stock of a product",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := load(cmd.Context())
				if err != nil {
					return err
				}
				p, err := s.products.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if p == nil {
					return fmt.Errorf("product %s not found", args[0])
				}
				return printJSON(cmd, p)
			},
		},
		&cobra.Command{
			Use:   "set [productId] [stock]",
			Short: "overwrite the stock of a product, creating it when absent",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[1])
				if err != nil || n < 0 {
					return fmt.Errorf("stock must be a non-negative integer, got %q", args[1])
				}
				s, err := load(cmd.Context())
				if err != nil {
					return err
				}
				if err := s.products.SetStock(cmd.Context(), args[0], n); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stock of %s set to %d\n", args[0], n)
				return nil
			},
		},
	)
	return cmd
}

func orderCommand(load loader) *cobra.Command {
	cmd := &cobra.Command{Use: "order", Short: "read orders"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get [orderId]",
			Short: "print an order",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := load(cmd.Context())
				if err != nil {
					return err
				}
				o, err := s.orders.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if o == nil {
					return fmt.Errorf("order %s not found", args[0])
				}
				return printJSON(cmd, o)
			},
		},
		&cobra.Command{
			Use:   "list [userId]",
			Short: "print every order of a user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := load(cmd.Context())
				if err != nil {
					return err
				}
				list, err := s.orders.ListByUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, list)
			},
		},
	)
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
