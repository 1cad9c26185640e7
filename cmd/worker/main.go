// Command worker consumes the email and push delivery queues, resolving
// each notification's template, rendering it, and dispatching through the
// matching transport (SMTP or FCM) behind its own circuit breaker. Retries,
// dead-lettering, and audit logging are handled entirely inside
// internal/worker.Runtime; this binary only wires collaborators.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/notifyhub/platform/internal/audit"
	"github.com/notifyhub/platform/internal/breaker"
	businesstemplate "github.com/notifyhub/platform/internal/business/template"
	"github.com/notifyhub/platform/internal/broker"
	"github.com/notifyhub/platform/internal/config"
	"github.com/notifyhub/platform/internal/database/postgres"
	"github.com/notifyhub/platform/internal/infrastructure/cache"
	infratemplate "github.com/notifyhub/platform/internal/infrastructure/template"
	"github.com/notifyhub/platform/internal/metrics"
	"github.com/notifyhub/platform/internal/notifications"
	"github.com/notifyhub/platform/internal/worker"
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

	consumer := broker.NewConsumer(amqpBroker, log)
	publisher := broker.NewPublisher(amqpBroker, log)

	idempotencyStore := notifications.NewIdempotencyStore(redisCache)
	statusStore := notifications.NewStatusStore(redisCache)
	auditRepo := audit.NewRepository(dbPool.Pool(), log)

	templateRepo, err := infratemplate.NewTemplateRepository(dbPool.Pool(), log)
	if err != nil {
		log.Error("failed to build template repository", "error", err)
		os.Exit(1)
	}
	templateCache, err := infratemplate.NewTwoTierTemplateCache(redisCache, cfg.Cache.L1Size, cfg.Cache.DefaultTTL, log, reg)
	if err != nil {
		log.Error("failed to build template cache", "error", err)
		os.Exit(1)
	}

	dbBreakerCfg := breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		OpenTimeout:      cfg.CircuitBreaker.OpenTimeout,
	}
	templateBreaker := breaker.New("template-db", redisCache, dbBreakerCfg, log, reg)
	smtpBreaker := breaker.New("smtp", redisCache, dbBreakerCfg, log, reg)
	fcmBreaker := breaker.New("fcm", redisCache, dbBreakerCfg, log, reg)

	resolver := businesstemplate.NewTemplateResolver(templateRepo, templateCache, templateBreaker, log)

	smtpTransport := worker.NewSMTPTransport(cfg.SMTP)
	fcmTransport := worker.NewFCMTransport(cfg.FCM)

	emailRuntime := worker.New(
		worker.DefaultConfig(cfg.Broker.EmailQueue, cfg.Broker.FailedQueue, "worker-email"),
		consumer, publisher, idempotencyStore, statusStore, resolver, auditRepo,
		smtpTransport, smtpBreaker, reg, log,
	)
	pushRuntime := worker.New(
		worker.DefaultConfig(cfg.Broker.PushQueue, cfg.Broker.FailedQueue, "worker-push"),
		consumer, publisher, idempotencyStore, statusStore, resolver, auditRepo,
		fcmTransport, fcmBreaker, reg, log,
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := emailRuntime.Run(ctx); err != nil {
			log.Error("email worker runtime stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := pushRuntime.Run(ctx); err != nil {
			log.Error("push worker runtime stopped", "error", err)
		}
	}()

	log.Info("worker started", "email_queue", cfg.Broker.EmailQueue, "push_queue", cfg.Broker.PushQueue)
	<-ctx.Done()
	log.Info("shutting down worker")
	wg.Wait()
}
