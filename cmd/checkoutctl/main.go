package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/logging"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/outbox"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/sequence"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "checkoutctl",
		Short:         "Operator tooling for the checkout service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(expireCmd())
	rootCmd.AddCommand(discountCmd())
	rootCmd.AddCommand(stockCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is what every database-backed command needs.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, "checkoutctl")
	if err != nil {
		return nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return &env{cfg: cfg, logger: logger, pool: pool}, nil
}

func (e *env) Close() {
	e.pool.Close()
	_ = e.logger.Sync()
}

// orders builds an order service that records events to the outbox; the
// running service's relay publishes them.
func (e *env) orders() *order.Service {
	return order.NewService(order.ServiceDeps{
		Store:  order.NewPostgresRepository(),
		Pool:   e.pool,
		Tx:     db.NewTxRunner(e.pool),
		Stock:  inventory.NewPostgresLedger(e.pool),
		Events: outbox.NewRecorder(sequence.NewRepository(), e.cfg.EventProducer),
		Logger: e.logger,
	})
}

func migrateCmd() *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations, or roll back with --down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.LogLevel, "checkoutctl")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if down > 0 {
				return db.RollbackMigrations(cfg.DatabaseDSN, down, logger)
			}
			return db.RunMigrations(cfg.DatabaseDSN, logger)
		},
	}

	cmd.Flags().IntVar(&down, "down", 0, "Number of migrations to roll back")
	return cmd
}
