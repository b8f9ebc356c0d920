package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fjod/seafood-storefront/config"
	"github.com/fjod/seafood-storefront/internal/cache"
	"github.com/fjod/seafood-storefront/internal/cart"
	"github.com/fjod/seafood-storefront/internal/catalog"
	"github.com/fjod/seafood-storefront/internal/checkout"
	"github.com/fjod/seafood-storefront/internal/client"
	h "github.com/fjod/seafood-storefront/internal/http"
	"github.com/fjod/seafood-storefront/internal/logger"
	"github.com/fjod/seafood-storefront/internal/publisher"
	"github.com/fjod/seafood-storefront/internal/session"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real environment variables still win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Log, cfg.Env.ServiceName)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()
	zap.ReplaceGlobals(lg)

	if err := run(cfg, lg); err != nil {
		lg.Fatal("storefront stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx := context.Background()

	// Catalog
	if err := os.MkdirAll(filepath.Dir(cfg.Catalog.DBPath), 0o755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}
	repo, err := catalog.NewRepository(cfg.Catalog.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()
	if err := repo.RunMigrations(); err != nil {
		return err
	}
	lg.Info("catalog ready", zap.String("path", cfg.Catalog.DBPath))

	// Session cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	lg.Info("redis ping succeeded", zap.String("addr", cfg.Redis.Addr))
	sessionCache := cache.NewRedisCache(redisClient, cfg.Session.IdleTTL)

	// Backend
	conn, err := client.Dial(cfg.Backend.Addr)
	if err != nil {
		return fmt.Errorf("failed to connect to backend: %w", err)
	}
	defer conn.Close()
	backend := client.NewBackendClient(conn, cfg.Backend.CallTimeout, client.BreakerSettings{
		ConsecutiveFailures: cfg.Backend.Breaker.ConsecutiveFailures,
		OpenTimeout:         cfg.Backend.Breaker.OpenTimeout,
		HalfOpenRequests:    cfg.Backend.Breaker.HalfOpenRequests,
	}, lg)

	// Order events
	var events checkout.EventPublisher
	if cfg.Kafka.Enabled {
		kp := publisher.NewKafkaPublisher(cfg.Kafka.PublishTimeout, cfg.Kafka.Brokers...)
		defer func() {
			if err := kp.Close(); err != nil {
				lg.Warn("failed to close kafka writer", zap.Error(err))
			}
		}()
		events = kp
		lg.Info("publishing order events", zap.String("topic", publisher.OrderPlacedTopic), zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	assembler := checkout.NewAssembler(checkout.Config{
		FreeShippingThreshold: cfg.Checkout.FreeShippingThreshold,
		StandardShippingFee:   cfg.Checkout.StandardShippingFee,
		Currency:              cfg.Checkout.Currency,
		SubmitTimeout:         cfg.Checkout.SubmitTimeout,
	}, backend, events, lg)

	registry := session.NewRegistry(session.Config{
		IdleTTL:       cfg.Session.IdleTTL,
		SweepInterval: cfg.Session.SweepInterval,
	}, sessionCache, assembler, lg)
	defer registry.Close()

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go registry.Run(janitorCtx)

	router := h.NewRouter(h.RouterConfig{
		RequestTimeout:     cfg.HTTP.RequestTimeout,
		SessionTTL:         cfg.Session.IdleTTL,
		MaxRequestBodySize: cfg.HTTP.MaxRequestBodySize,
	}, h.Handlers{
		Cart:     h.NewCartHandler(repo, cart.NewReconciler(backend, lg), cfg.HTTP.RequestTimeout),
		Checkout: h.NewCheckoutHandler(assembler),
		Products: h.NewProductHandler(repo, cfg.HTTP.RequestTimeout),
		Session:  h.NewSessionHandler(registry),
	}, registry, lg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           otelhttp.NewHandler(router, "storefront"),
		ReadTimeout:       cfg.HTTP.Timeouts.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.Timeouts.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.Timeouts.WriteTimeout,
		IdleTimeout:       cfg.HTTP.Timeouts.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		lg.Info("storefront starting", zap.Int("port", cfg.HTTP.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	}

	lg.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	lg.Info("server exited")
	return nil
}
