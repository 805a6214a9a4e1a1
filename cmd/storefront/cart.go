package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"finitefield.org/hanko-storefront/internal/domain"
)

func newCartCommand(opts *rootOptions, deps runtimeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Inspect and change the cart",
	}
	cmd.AddCommand(newCartListCommand(opts, deps))
	cmd.AddCommand(newCartAddCommand(opts, deps))
	cmd.AddCommand(newCartUpdateCommand(opts, deps))
	cmd.AddCommand(newCartRemoveCommand(opts, deps))
	cmd.AddCommand(newCartClearCommand(opts, deps))
	cmd.AddCommand(newCartRetryMergeCommand(opts, deps))
	return cmd
}

func newCartListCommand(opts *rootOptions, deps runtimeDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show the cart",
		Args:    cobra.NoArgs,
		RunE: withApp(opts, deps, func(_ context.Context, a *app, _ []string) error {
			return a.out.cart(a.container.Cart.Snapshot())
		}),
	}
}

type addFlags struct {
	name     string
	price    float64
	quantity int
	stock    int
	image    string
}

func newCartAddCommand(opts *rootOptions, deps runtimeDeps) *cobra.Command {
	flags := &addFlags{}
	cmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, deps, func(ctx context.Context, a *app, args []string) error {
			if flags.quantity <= 0 {
				return errors.New("quantity must be positive")
			}
			if flags.stock <= 0 {
				return errors.New("stock must be positive")
			}
			err := a.container.Cart.AddItem(ctx, domain.CartItem{
				ProductID:    strings.TrimSpace(args[0]),
				Name:         strings.TrimSpace(flags.name),
				UnitPrice:    domain.MoneyFromDecimal(flags.price),
				ImageRef:     strings.TrimSpace(flags.image),
				Quantity:     flags.quantity,
				StockCeiling: flags.stock,
			})
			return finish(a, err)
		}),
	}
	cmd.Flags().StringVar(&flags.name, "name", "", "product name")
	cmd.Flags().Float64Var(&flags.price, "price", 0, "unit price")
	cmd.Flags().IntVarP(&flags.quantity, "quantity", "q", 1, "quantity to add")
	cmd.Flags().IntVar(&flags.stock, "stock", 0, "available stock")
	cmd.Flags().StringVar(&flags.image, "image", "", "image url")
	return cmd
}

func newCartUpdateCommand(opts *rootOptions, deps runtimeDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "update <product-id> <quantity>",
		Short: "Set a line's quantity",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(opts, deps, func(ctx context.Context, a *app, args []string) error {
			quantity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			return finish(a, a.container.Cart.UpdateQuantity(ctx, args[0], quantity))
		}),
	}
}

func newCartRemoveCommand(opts *rootOptions, deps runtimeDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <product-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a line",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(opts, deps, func(ctx context.Context, a *app, args []string) error {
			return finish(a, a.container.Cart.RemoveItem(ctx, args[0]))
		}),
	}
}

func newCartClearCommand(opts *rootOptions, deps runtimeDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, deps, func(ctx context.Context, a *app, _ []string) error {
			return finish(a, a.container.Cart.ClearCart(ctx))
		}),
	}
}

func newCartRetryMergeCommand(opts *rootOptions, deps runtimeDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-merge",
		Short: "Retry merging the device cart into the account cart",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, deps, func(ctx context.Context, a *app, _ []string) error {
			return finish(a, a.container.Cart.RetryMerge(ctx))
		}),
	}
}

// finish prints the resulting cart, then reports err with its user-facing message.
func finish(a *app, err error) error {
	if printErr := a.out.cart(a.container.Cart.Snapshot()); printErr != nil {
		return printErr
	}
	if err != nil {
		if domain.KindOf(err) == "" {
			return err
		}
		return errors.New(domain.UserMessage(err))
	}
	return nil
}
