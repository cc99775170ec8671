// Package bootstrap wires configuration, telemetry and the evaluation
// service for the rxguard binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxguard/internal/api/handlers"
	"github.com/drfirst/go-rxguard/internal/config"
	"github.com/drfirst/go-rxguard/internal/evaluation"
	"github.com/drfirst/go-rxguard/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxguard/internal/observability/logging"
	"github.com/drfirst/go-rxguard/internal/observability/metrics"
	"github.com/drfirst/go-rxguard/internal/observability/tracing"
	"github.com/drfirst/go-rxguard/internal/protocol"
	"github.com/drfirst/go-rxguard/pkg/circuitbreaker"
)

// Version is reported by the health endpoints and the CLI
const Version = "1.0.0"

// Runtime holds everything a binary needs to evaluate prescriptions
type Runtime struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Service *evaluation.Service
	Source  evaluation.ProtocolSource
	// Checks feed the readiness endpoint
	Checks map[string]handlers.Check

	tracing *tracing.Provider
	closers []func()
}

// Setup loads the configuration and builds the runtime for service. reg may
// be nil to register metrics on the default registry.
func Setup(ctx context.Context, service string, reg prometheus.Registerer) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, service, reg)
}

// New builds the runtime from an already loaded configuration
func New(ctx context.Context, cfg *config.Config, service string, reg prometheus.Registerer) (*Runtime, error) {
	logger, err := logging.New(cfg.LogLevel, service)
	if err != nil {
		return nil, err
	}

	tcfg := tracing.DefaultConfig(service)
	tcfg.ServiceVersion = Version
	tcfg.Environment = cfg.Env
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	tcfg.SampleRate = cfg.TraceSampleRate
	tp, err := tracing.Init(ctx, tcfg, logger)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(reg),
		Checks:  make(map[string]handlers.Check),
		tracing: tp,
	}

	source, err := rt.protocolSource(ctx)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.Source = source
	rt.Service = evaluation.NewService(source, evaluation.Config{
		FastingIntervals: cfg.FastingIntervals(),
	}, rt.Metrics, logger)
	return rt, nil
}

func (rt *Runtime) protocolSource(ctx context.Context) (evaluation.ProtocolSource, error) {
	cfg := rt.Config
	switch cfg.ProtocolSource {
	case config.SourceFile:
		src, err := protocol.NewFileSource(cfg.ProtocolFile)
		if err != nil {
			return nil, err
		}
		rt.Logger.Info("protocols loaded from file", zap.String("path", src.Path()))
		return src, nil

	case config.SourcePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)

		bcfg := circuitbreaker.DefaultConfig("protocol-store")
		bcfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
			rt.Metrics.CircuitBreakerState.WithLabelValues(name).Set(to.Gauge())
		}
		breaker, err := circuitbreaker.New(bcfg, rt.Logger)
		if err != nil {
			return nil, err
		}
		rt.Metrics.CircuitBreakerState.WithLabelValues(breaker.Name()).Set(breaker.State().Gauge())

		scfg := postgres.DefaultStoreConfig()
		scfg.TTL = cfg.ProtocolTTL
		store := postgres.NewProtocolStore(pool, breaker, scfg, rt.Logger)
		rt.Checks["database"] = store.Ping
		return store, nil
	}

	rt.Logger.Info("protocol evaluation disabled")
	return nil, nil
}

// Close releases connections and flushes traces
func (rt *Runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	if rt.tracing != nil {
		if err := rt.tracing.Shutdown(ctx); err != nil {
			rt.Logger.Warn("trace shutdown failed", zap.Error(err))
		}
	}
	rt.Logger.Sync()
}
