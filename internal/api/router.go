// Package api assembles the gateway and template-service HTTP routers from
// the shared middleware stack and the handlers package.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/notifyhub/platform/internal/api/handlers"
	"github.com/notifyhub/platform/internal/api/middleware"
)

// RouterConfig holds the middleware and handler wiring shared by every
// binary that serves HTTP.
type RouterConfig struct {
	EnableAuth        bool
	EnableRateLimit   bool
	EnableCompression bool
	EnableCORS        bool
	EnableMetrics     bool

	AuthConfig middleware.AuthConfig

	RateLimitPerMinute int
	RateLimitBurst     int

	CORSConfig middleware.CORSConfig

	Logger *slog.Logger
}

// DefaultRouterConfig returns the platform's default middleware
// configuration; the auth validator is nil until the caller wires one (the
// gateway and the template service each do).
func DefaultRouterConfig(logger *slog.Logger) RouterConfig {
	return RouterConfig{
		EnableAuth:         true,
		EnableRateLimit:    true,
		EnableCompression:  true,
		EnableCORS:         true,
		EnableMetrics:      true,
		RateLimitPerMinute: 100,
		RateLimitBurst:     20,
		CORSConfig:         middleware.DefaultCORSConfig(),
		Logger:             logger,
	}
}

// applyGlobalMiddleware attaches the ambient stack every router shares:
// security headers, request ID, structured logging, metrics, CORS, and
// compression.
func applyGlobalMiddleware(router *mux.Router, config RouterConfig) {
	router.Use(middleware.SecurityHeadersMiddleware)
	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.LoggingMiddleware(config.Logger))

	if config.EnableMetrics {
		router.Use(middleware.MetricsMiddleware)
	}
	if config.EnableCORS {
		router.Use(middleware.CORSMiddleware(config.CORSConfig))
	}
	if config.EnableCompression {
		router.Use(middleware.CompressionMiddleware)
	}
}

// GatewayHandlers bundles the gateway's handler set (auth, notifications,
// health) so NewGatewayRouter doesn't take a long parameter list.
type GatewayHandlers struct {
	Auth          *handlers.AuthHandler
	Notifications *handlers.NotificationsHandler
	Health        *handlers.HealthHandler
}

// NewGatewayRouter builds the router for the gateway binary: auth,
// notification dispatch, and health, per §6.
//
// @title NotifyHub Gateway API
// @version 1.0.0
// @description Authentication, notification dispatch, and health endpoints.
// @license.name MIT
// @BasePath /
func NewGatewayRouter(config RouterConfig, h GatewayHandlers) *mux.Router {
	router := mux.NewRouter()
	applyGlobalMiddleware(router, config)

	// Public health endpoints, no auth, no rate limit.
	router.HandleFunc("/health", h.Health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/services", h.Health.Services).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Auth routes. Login/refresh/validate are unauthenticated by nature;
	// logout requires a bearer token to know which jti to revoke.
	auth := router.PathPrefix("/auth").Subrouter()
	if config.EnableRateLimit {
		auth.Use(middleware.RateLimitMiddleware(config.RateLimitPerMinute, config.RateLimitBurst))
	}
	auth.Use(middleware.ValidationMiddleware)
	auth.HandleFunc("/login", h.Auth.Login).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", h.Auth.Refresh).Methods(http.MethodPost)
	auth.HandleFunc("/validate", h.Auth.Validate).Methods(http.MethodPost)

	authProtected := auth.NewRoute().Subrouter()
	if config.EnableAuth {
		authProtected.Use(middleware.AuthMiddleware(config.AuthConfig))
	}
	authProtected.HandleFunc("/logout", h.Auth.Logout).Methods(http.MethodPost)

	// Notification routes, all require a valid bearer token.
	notif := router.PathPrefix("/notifications").Subrouter()
	if config.EnableAuth {
		notif.Use(middleware.AuthMiddleware(config.AuthConfig))
	}
	if config.EnableRateLimit {
		notif.Use(middleware.RateLimitMiddleware(config.RateLimitPerMinute, config.RateLimitBurst))
	}
	notif.HandleFunc("/send", h.Notifications.Send).Methods(http.MethodPost)
	notif.HandleFunc("/status/{id}", h.Notifications.Status).Methods(http.MethodGet)

	setupDocumentationRoutes(router)
	return router
}

// TemplateServiceHandlers bundles the template service's handler set.
type TemplateServiceHandlers struct {
	Templates *handlers.TemplatesHandler
	Health    *handlers.HealthHandler
}

// NewTemplateServiceRouter builds the router for the template-service
// binary: the /templates CRUD surface (C3 reads, C4 writes) plus health.
func NewTemplateServiceRouter(config RouterConfig, h TemplateServiceHandlers) *mux.Router {
	router := mux.NewRouter()
	applyGlobalMiddleware(router, config)

	router.HandleFunc("/health", h.Health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/services", h.Health.Services).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	templates := router.PathPrefix("/templates").Subrouter()
	if config.EnableAuth {
		templates.Use(middleware.AuthMiddleware(config.AuthConfig))
	}
	if config.EnableRateLimit {
		templates.Use(middleware.RateLimitMiddleware(config.RateLimitPerMinute, config.RateLimitBurst))
	}
	templates.HandleFunc("", h.Templates.List).Methods(http.MethodGet)
	templates.HandleFunc("/{code}", h.Templates.Get).Methods(http.MethodGet)

	// Template writes change what every replica renders, so they are gated to
	// operator+ accounts on top of the plain bearer-token check above.
	templateWrites := templates.NewRoute().Subrouter()
	if config.EnableAuth {
		templateWrites.Use(middleware.OperatorMiddleware)
	}
	templateWrites.HandleFunc("", h.Templates.Create).Methods(http.MethodPost)
	templateWrites.HandleFunc("/{code}", h.Templates.Update).Methods(http.MethodPut)
	templateWrites.HandleFunc("/{code}", h.Templates.Delete).Methods(http.MethodDelete)

	setupDocumentationRoutes(router)
	return router
}

// setupDocumentationRoutes mounts the generated Swagger UI and spec.
func setupDocumentationRoutes(router *mux.Router) {
	router.PathPrefix("/docs").Handler(httpSwagger.WrapHandler)
}
