package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/discount"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/inventory"
)

type discountFlags struct {
	code       string
	kind       string
	value      string
	minOrder   string
	maxAmount  string
	start      string
	end        string
	usageLimit int
	inactive   bool
}

// build turns command line flags into a validated discount. A negative
// usage limit means unlimited.
func (f discountFlags) build(now time.Time) (discount.Discount, error) {
	value, err := decimal.NewFromString(f.value)
	if err != nil {
		return discount.Discount{}, fmt.Errorf("--value: %w", err)
	}
	d := discount.Discount{
		Code:     f.code,
		Kind:     discount.Kind(f.kind),
		Value:    value,
		IsActive: !f.inactive,
	}
	if f.minOrder != "" {
		if d.MinOrderAmount, err = decimal.NewFromString(f.minOrder); err != nil {
			return discount.Discount{}, fmt.Errorf("--min-order: %w", err)
		}
	}
	if f.maxAmount != "" {
		capAmount, err := decimal.NewFromString(f.maxAmount)
		if err != nil {
			return discount.Discount{}, fmt.Errorf("--max-amount: %w", err)
		}
		d.MaxDiscountAmount = decimal.NewNullDecimal(capAmount)
	}
	if f.usageLimit >= 0 {
		limit := f.usageLimit
		d.UsageLimit = &limit
	}

	d.StartDate = now
	if f.start != "" {
		if d.StartDate, err = time.Parse(time.RFC3339, f.start); err != nil {
			return discount.Discount{}, fmt.Errorf("--start: %w", err)
		}
	}
	d.EndDate = d.StartDate.AddDate(0, 1, 0)
	if f.end != "" {
		if d.EndDate, err = time.Parse(time.RFC3339, f.end); err != nil {
			return discount.Discount{}, fmt.Errorf("--end: %w", err)
		}
	}
	return discount.New(d)
}

func discountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discount",
		Short: "Manage discount codes",
	}

	var f discountFlags
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a discount code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := f.build(time.Now().UTC())
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := discount.NewPostgresStore().Create(cmd.Context(), e.pool, d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s %s) valid %s to %s\n",
				d.Code, d.Kind, d.Value, d.StartDate.Format(time.RFC3339), d.EndDate.Format(time.RFC3339))
			return nil
		},
	}
	create.Flags().StringVar(&f.code, "code", "", "Discount code")
	create.Flags().StringVar(&f.kind, "kind", string(discount.KindPercentage), "percentage or fixed")
	create.Flags().StringVar(&f.value, "value", "0", "Percentage points or fixed amount")
	create.Flags().StringVar(&f.minOrder, "min-order", "", "Minimum subtotal")
	create.Flags().StringVar(&f.maxAmount, "max-amount", "", "Cap on a percentage discount")
	create.Flags().StringVar(&f.start, "start", "", "RFC3339 start (default now)")
	create.Flags().StringVar(&f.end, "end", "", "RFC3339 end (default one month after start)")
	create.Flags().IntVar(&f.usageLimit, "usage-limit", -1, "Maximum redemptions, negative for unlimited")
	create.Flags().BoolVar(&f.inactive, "inactive", false, "Create the code disabled")
	_ = create.MarkFlagRequired("code")

	cmd.AddCommand(create)
	return cmd
}

func stockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stock [productId] [available]",
		Short: "Set the available quantity of a product",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var available int
			if _, err := fmt.Sscan(args[1], &available); err != nil || available < 0 {
				return fmt.Errorf("available must be a non-negative integer, got %q", args[1])
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			ledger := inventory.NewPostgresLedger(e.pool)
			if err := ledger.SetAvailable(cmd.Context(), args[0], available); err != nil {
				return err
			}
			item, err := ledger.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d available\n", item.ProductID, item.Available)
			return nil
		},
	}
}
