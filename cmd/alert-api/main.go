// Package main provides the alert API service entry point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxguard/internal/api/handlers"
	"github.com/drfirst/go-rxguard/internal/api/middleware"
	"github.com/drfirst/go-rxguard/internal/bootstrap"
)

const serviceName = "alert-api"

func main() {
	ctx := context.Background()

	rt, err := bootstrap.Setup(ctx, serviceName, prometheus.DefaultRegisterer)
	if err != nil {
		os.Stderr.WriteString("startup failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := rt.Logger
	defer rt.Close(context.Background())

	apiKeys, _ := rt.Config.APIKeys()
	if len(apiKeys) == 0 {
		logger.Warn("API_KEYS is empty, authentication disabled")
	}

	evaluationHandler := handlers.NewEvaluationHandler(rt.Service, logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(rt.Config.CORSOrigins()))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	// Probes and metrics (no auth)
	r.Get("/health", handlers.Health(serviceName, bootstrap.Version))
	r.Get("/ready", handlers.Ready(rt.Checks))
	r.Handle("/metrics", rt.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(rt.Config.RateLimitRPS, rt.Config.RateLimitBurst, rt.Metrics.RateLimited))
		r.Use(middleware.APIKeyAuth(apiKeys))
		r.Mount("/", evaluationHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + rt.Config.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting alert API",
		zap.String("port", rt.Config.Port),
		zap.String("protocol_source", rt.Config.ProtocolSource))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}
