// Command gateway serves the platform's public HTTP surface: login and
// token refresh, idempotent notification dispatch, status lookups, and the
// composite health/metrics endpoints. It owns no delivery logic of its own;
// sending a notification is just publishing a validated envelope onto the
// broker for a worker to pick up.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/notifyhub/platform/internal/api"
	"github.com/notifyhub/platform/internal/api/handlers"
	"github.com/notifyhub/platform/internal/api/middleware"
	"github.com/notifyhub/platform/internal/auth"
	"github.com/notifyhub/platform/internal/breaker"
	"github.com/notifyhub/platform/internal/broker"
	"github.com/notifyhub/platform/internal/config"
	"github.com/notifyhub/platform/internal/database/postgres"
	"github.com/notifyhub/platform/internal/health"
	"github.com/notifyhub/platform/internal/infrastructure/cache"
	"github.com/notifyhub/platform/internal/metrics"
	"github.com/notifyhub/platform/internal/notifications"
	"github.com/notifyhub/platform/internal/users"
	"github.com/notifyhub/platform/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool := postgres.NewPostgresPool(&postgres.PostgresConfig{
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		Database:          cfg.Database.Database,
		User:              cfg.Database.Username,
		Password:          cfg.Database.Password,
		SSLMode:           cfg.Database.SSLMode,
		MaxConns:          int32(cfg.Database.MaxConnections),
		MinConns:          int32(cfg.Database.MinConnections),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    cfg.Database.ConnectTimeout,
	}, log)
	if err := dbPool.Connect(ctx); err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Disconnect(context.Background())

	redisCache, err := cache.NewRedisCache(&cache.CacheConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	}, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisCache.Close()

	reg := metrics.Default()

	amqpBroker, err := broker.New(ctx, broker.Config{
		URL:            cfg.Broker.URL,
		Exchange:       cfg.Broker.Exchange,
		EmailQueue:     cfg.Broker.EmailQueue,
		PushQueue:      cfg.Broker.PushQueue,
		FailedQueue:    cfg.Broker.FailedQueue,
		MaxAttempts:    cfg.Broker.MaxAttempts,
		ReconnectDelay: cfg.Broker.ReconnectDelay,
		PrefetchCount:  cfg.Broker.PrefetchCount,
	}, log)
	if err != nil {
		log.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer amqpBroker.Close()
	publisher := broker.NewPublisher(amqpBroker, log)

	dbBreaker := breaker.New("db", redisCache, breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		OpenTimeout:      cfg.CircuitBreaker.OpenTimeout,
	}, log, reg)

	userRepo := users.NewRepository(dbPool.Pool(), log)
	tokenIssuer := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL)
	authService := auth.NewService(userRepo, redisCache, tokenIssuer, log)

	idempotencyStore := notifications.NewIdempotencyStore(redisCache)
	statusStore := notifications.NewStatusStore(redisCache)

	aggregator := health.New(dbPool, redisCache, amqpBroker, map[string]*breaker.Breaker{
		"db": dbBreaker,
	})

	gatewayHandlers := api.GatewayHandlers{
		Auth: handlers.NewAuthHandler(authService, log),
		Notifications: handlers.NewNotificationsHandler(
			userRepo, idempotencyStore, statusStore, publisher,
			cfg.Broker.Exchange, cfg.Broker.EmailQueue, cfg.Broker.PushQueue, log,
		),
		Health: handlers.NewHealthHandler(aggregator, log),
	}

	routerConfig := api.DefaultRouterConfig(log)
	routerConfig.EnableRateLimit = cfg.RateLimit.Enabled
	routerConfig.RateLimitPerMinute = cfg.RateLimit.RequestsPerMinute
	routerConfig.RateLimitBurst = cfg.RateLimit.Burst
	routerConfig.AuthConfig = middleware.AuthConfig{
		Validator: handlers.ServiceValidator{Service: authService},
	}

	mux := api.NewGatewayRouter(routerConfig, gatewayHandlers)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("gateway listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("gateway server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("gateway shutdown error", "error", err)
	}
}
