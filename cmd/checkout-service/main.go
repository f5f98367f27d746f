package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/discount"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/events"
	httpserver "github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/http"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/idempotency"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/logging"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/metrics"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/outbox"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/checkout-service-go/internal/sequence"
)

const serviceName = "checkout-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("checkout-service stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseDSN, logger); err != nil {
			return err
		}
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tx := db.NewTxRunner(pool)
	recorder := outbox.NewRecorder(sequence.NewRepository(), cfg.EventProducer)
	ledger := inventory.NewPostgresLedger(pool)
	evaluator := discount.NewEvaluator(discount.NewPostgresStore())
	orderRepo := order.NewPostgresRepository()

	orders := order.NewService(order.ServiceDeps{
		Store:       orderRepo,
		Pool:        pool,
		Tx:          tx,
		Stock:       ledger,
		Events:      recorder,
		Logger:      logger.Named("order"),
		Transitions: m.Transitions,
	})

	checkouts := checkout.NewService(checkout.Deps{
		Tx:         tx,
		Carts:      cart.NewPostgresStore(),
		Stock:      ledger,
		Discounts:  evaluator,
		Orders:     orderRepo,
		Events:     recorder,
		Logger:     logger.Named("checkout"),
		Checkouts:  m.Checkouts,
		CodePrefix: cfg.OrderCodePrefix,
	})

	providers := payment.NewProviders(cfg.GatewayA, cfg.GatewayB)
	for name, gw := range map[string]config.Gateway{payment.GatewayA: cfg.GatewayA, payment.GatewayB: cfg.GatewayB} {
		if !gw.Enabled() {
			logger.Warn("payment provider has no secret, notifications will be rejected", zap.String("provider", name))
		}
	}
	reconciler := payment.NewReconciler(payment.ReconcilerDeps{
		Providers:     providers,
		Orders:        orders,
		Log:           payment.NewPostgresNotificationLog(pool),
		Logger:        logger.Named("payment"),
		Notifications: m.Notifications,
	})

	var idem httpserver.IdempotencyStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable, idempotency keys will fail until it is", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		idem = idempotency.NewStore(client, cfg.IdempotencyPendingTTL, cfg.IdempotencyTTL)
	}

	pub, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	if pub != nil {
		defer pub.Close()
		relay := outbox.NewRelay(tx, pub, logger.Named("outbox"), cfg.OutboxPoll, cfg.OutboxBatch, m.OutboxSent)
		go relay.Run(ctx)
	} else {
		logger.Warn("no broker configured, outbox records will accumulate", zap.String("broker", cfg.Broker))
	}

	handler := httpserver.NewHandler(httpserver.HandlerDeps{
		Checkout:    checkouts,
		Orders:      orders,
		Inventory:   ledger,
		Discounts:   evaluator,
		Pool:        pool,
		Payments:    reconciler,
		Providers:   providers,
		Idempotency: idem,
		Logger:      logger.Named("http"),
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpserver.NewRouter(handler, m, reg, logger.Named("http")),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("checkout-service listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newPublisher returns nil when the relay is disabled.
func newPublisher(cfg config.Config) (events.Publisher, error) {
	switch cfg.Broker {
	case "rabbitmq":
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			return nil, fmt.Errorf("dial rabbitmq: %w", err)
		}
		pub, err := events.NewRabbitPublisher(conn)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return pub, nil
	case "kafka":
		return events.NewKafkaPublisher(cfg.KafkaBrokers), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}
