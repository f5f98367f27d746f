package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func cancelCmd() *cobra.Command {
	var note, actor string

	cmd := &cobra.Command{
		Use:   "cancel [orderId]",
		Short: "Cancel an order and put its stock back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			o, err := e.orders().Cancel(cmd.Context(), args[0], actor, note)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s (%s) is %s\n", o.ID, o.Code, o.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Reason recorded on the order")
	cmd.Flags().StringVar(&actor, "actor", "checkoutctl", "Actor recorded on the audit note")
	return cmd
}

func expireCmd() *cobra.Command {
	var (
		olderThan time.Duration
		actor     string
	)

	cmd := &cobra.Command{
		Use:   "expire-pending",
		Short: "Cancel unpaid online orders older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			ids, err := e.orders().ExpirePending(cmd.Context(), olderThan, actor)
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d orders\n", len(ids))
			return err
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Age after which an unpaid order expires")
	cmd.Flags().StringVar(&actor, "actor", "checkoutctl", "Actor recorded on the audit notes")
	return cmd
}
