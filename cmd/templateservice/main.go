// Command templateservice serves the /templates CRUD surface (C3 reads, C4
// writes) plus health. Its storage backend depends on the deployment
// profile: "lite" opens an embedded sqlite file for single-node setups,
// "standard" shares the platform's Postgres pool.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/notifyhub/platform/internal/api"
	"github.com/notifyhub/platform/internal/api/handlers"
	"github.com/notifyhub/platform/internal/api/middleware"
	"github.com/notifyhub/platform/internal/auth"
	"github.com/notifyhub/platform/internal/breaker"
	businesstemplate "github.com/notifyhub/platform/internal/business/template"
	"github.com/notifyhub/platform/internal/broker"
	"github.com/notifyhub/platform/internal/config"
	"github.com/notifyhub/platform/internal/database/postgres"
	"github.com/notifyhub/platform/internal/health"
	"github.com/notifyhub/platform/internal/infrastructure/cache"
	infratemplate "github.com/notifyhub/platform/internal/infrastructure/template"
	"github.com/notifyhub/platform/internal/metrics"
	"github.com/notifyhub/platform/pkg/logger"
)

// sqliteHealthPinger adapts *sql.DB to health.StorePinger for the lite
// profile, where there is no PostgresPool to ping.
type sqliteHealthPinger struct{ db *sql.DB }

func (p sqliteHealthPinger) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// tokenSignatureValidator implements middleware.Validator by checking only
// signature and expiry against the shared JWT secret. The template service
// has no refresh-token store or logout blacklist of its own; it trusts the
// gateway to have already enforced those before issuing a token.
type tokenSignatureValidator struct{ issuer *auth.TokenIssuer }

func (v tokenSignatureValidator) Validate(_ context.Context, token string) (valid bool, userID, email, role, jti string) {
	claims, err := v.issuer.Parse(token)
	if err != nil {
		return false, "", "", "", ""
	}
	return true, claims.UserID, claims.Email, claims.Role, claims.ID
}

var _ middleware.Validator = tokenSignatureValidator{}

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

	reg := metrics.Default()

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

	var (
		templateRepo infratemplate.TemplateRepository
		storePinger  health.StorePinger
		dbBreaker    *breaker.Breaker
	)

	breakerCfg := breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		OpenTimeout:      cfg.CircuitBreaker.OpenTimeout,
	}

	if cfg.IsLiteProfile() {
		sqliteDB, err := sql.Open("sqlite", cfg.Storage.FilesystemPath)
		if err != nil {
			log.Error("failed to open sqlite store", "error", err)
			os.Exit(1)
		}
		defer sqliteDB.Close()
		if err := sqliteDB.PingContext(ctx); err != nil {
			log.Error("failed to ping sqlite store", "error", err)
			os.Exit(1)
		}

		templateRepo, err = infratemplate.NewTemplateRepository(sqliteDB, log)
		if err != nil {
			log.Error("failed to build template repository", "error", err)
			os.Exit(1)
		}
		storePinger = sqliteHealthPinger{db: sqliteDB}
		dbBreaker = breaker.New("template-sqlite", redisCache, breakerCfg, log, reg)
	} else {
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

		templateRepo, err = infratemplate.NewTemplateRepository(dbPool.Pool(), log)
		if err != nil {
			log.Error("failed to build template repository", "error", err)
			os.Exit(1)
		}
		storePinger = dbPool
		dbBreaker = breaker.New("template-db", redisCache, breakerCfg, log, reg)
	}

	templateCache, err := infratemplate.NewTwoTierTemplateCache(redisCache, cfg.Cache.L1Size, cfg.Cache.DefaultTTL, log, reg)
	if err != nil {
		log.Error("failed to build template cache", "error", err)
		os.Exit(1)
	}

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

	resolver := businesstemplate.NewTemplateResolver(templateRepo, templateCache, dbBreaker, log)
	writer := businesstemplate.NewTemplateWriter(templateRepo, templateCache, publisher, log)

	aggregator := health.New(storePinger, redisCache, amqpBroker, map[string]*breaker.Breaker{
		"db": dbBreaker,
	})

	templateServiceHandlers := api.TemplateServiceHandlers{
		Templates: handlers.NewTemplatesHandler(resolver, writer, templateRepo, log),
		Health:    handlers.NewHealthHandler(aggregator, log),
	}

	tokenIssuer := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL)

	routerConfig := api.DefaultRouterConfig(log)
	routerConfig.EnableRateLimit = cfg.RateLimit.Enabled
	routerConfig.RateLimitPerMinute = cfg.RateLimit.RequestsPerMinute
	routerConfig.RateLimitBurst = cfg.RateLimit.Burst
	routerConfig.AuthConfig = middleware.AuthConfig{
		Validator: tokenSignatureValidator{issuer: tokenIssuer},
	}

	mux := api.NewTemplateServiceRouter(routerConfig, templateServiceHandlers)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("template service listening", "addr", srv.Addr, "profile", cfg.Profile)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("template service server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down template service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("template service shutdown error", "error", err)
	}
}
