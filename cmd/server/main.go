package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/henna-boutique/api/internal/config"
	"github.com/henna-boutique/api/internal/database"
	"github.com/henna-boutique/api/internal/notify"
	"github.com/henna-boutique/api/internal/payment"
	"github.com/henna-boutique/api/internal/router"
	"github.com/henna-boutique/api/internal/service"
	"github.com/henna-boutique/api/internal/session"
	"github.com/henna-boutique/api/internal/totals"
	"github.com/henna-boutique/api/internal/ws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	if err := zcfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return zcfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		if err := database.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	queries := database.New(pool)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	sessions := session.NewRedisStore(rdb, cfg.SessionTTL)

	if cfg.Stripe.SecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY is not set; payment calls will fail")
	}
	provider := payment.NewBreakerProvider(
		payment.NewStripeProvider(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.Currency, nil),
		payment.BreakerSettings{
			MaxFailures:  cfg.Breaker.MaxFailures,
			ResetTimeout: cfg.Breaker.ResetTimeout,
			HalfOpenMax:  cfg.Breaker.HalfOpenMax,
		},
		logger,
	)

	threshold, err := cfg.Threshold()
	if err != nil {
		return err
	}
	calc := totals.Calculator{FreeDeliveryThreshold: threshold}

	newOrderStore := func(db database.DBTX) service.OrderStore {
		return database.New(db)
	}
	orders := service.NewOrderService(pool, newOrderStore)
	reconciler := service.NewReconciler(pool, newOrderStore, calc, service.DefaultRetryPolicy(), logger)

	hub := ws.NewHub()
	go hub.Run(ctx.Done())

	var downstream notify.Notifier = notify.NewLogNotifier(logger)
	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		kn := notify.NewKafkaNotifier(brokers, cfg.Kafka.OrderTopic)
		defer kn.Close()
		downstream = kn
		logger.Info("publishing orders to kafka", zap.Strings("brokers", brokers), zap.String("topic", cfg.Kafka.OrderTopic))
	}

	r := router.New(router.Deps{
		Config:     cfg,
		Queries:    queries,
		Sessions:   sessions,
		Orders:     orders,
		Reconciler: reconciler,
		Intents:    payment.NewSynchronizer(provider, logger),
		Provider:   provider,
		Calc:       calc,
		Notifier:   notify.Multi{downstream, notify.NewFeedNotifier(hub)},
		Hub:        hub,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
