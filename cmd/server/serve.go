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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yourusername/storefront-gateway/internal/auth"
	"github.com/yourusername/storefront-gateway/internal/config"
	"github.com/yourusername/storefront-gateway/internal/database"
	"github.com/yourusername/storefront-gateway/internal/handlers"
	"github.com/yourusername/storefront-gateway/internal/middleware"
	"github.com/yourusername/storefront-gateway/internal/services"
	"github.com/yourusername/storefront-gateway/internal/webhooks"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")

	return cmd
}

func runServe(cfg *config.Config, migrate bool) error {
	log.Info().Str("port", cfg.Port).Str("rate_limit_backend", cfg.RateLimitBackend).Msg("Starting")

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if migrate {
		if err := db.Migrate(context.Background()); err != nil {
			return err
		}
		log.Info().Msg("Schema applied")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = services.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisClient.Close()
	}

	metricsCollector := services.NewMetricsCollector()
	hasher := services.NewKeyHasher(cfg.APIKeyPepper)

	var limiter services.RateLimiter
	switch cfg.RateLimitBackend {
	case config.RateLimitBackendRedis:
		limiter = services.NewRedisLimiter(redisClient, nil)
	default:
		limiter = services.NewLogLimiter(db, nil)
	}

	deliverer := webhooks.NewDeliverer(db, metricsCollector, cfg.WebhookTimeout)
	dispatcher := webhooks.NewDispatcher(db, deliverer)

	adminHandler := handlers.NewAdminHandler(db, db, hasher, dispatcher)
	apiHandler := handlers.NewAPIHandler(db, db, adminHandler)
	apiHandler.SetEvents(dispatcher)
	if redisClient != nil {
		apiHandler.SetCache(services.NewCacheService(redisClient, cfg.AnalyticsCacheTTL))
	}

	auditHandler := handlers.NewAuditHandler(db, auth.NewTokenVerifier(cfg.AuthJWTSecret))
	metricsHandler := handlers.NewMetricsHandler(metricsCollector, db, redisClient)

	authMiddleware := middleware.NewAuthMiddleware(db, hasher, nil)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(limiter, metricsCollector)
	requestLogMiddleware := middleware.NewRequestLogMiddleware(db, metricsCollector)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", metricsHandler.HealthCheck)
	mux.Handle("/metrics", metricsHandler.Prometheus())
	mux.HandleFunc("/metrics/summary", metricsHandler.GetSummary)
	mux.Handle("/audit", middleware.CORS(auditHandler))

	mux.Handle("/", middleware.CORS(
		requestLogMiddleware.Middleware(
			authMiddleware.Middleware(
				rateLimitMiddleware.Middleware(
					middleware.RequirePermission(apiHandler))))))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Ready")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	log.Info().Msg("Stopped")
	return nil
}
