// Package postgres reads protocol configuration from PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/drfirst/go-rxguard/internal/protocol"
	"github.com/drfirst/go-rxguard/pkg/circuitbreaker"
)

// Querier is the subset of pgxpool.Pool the store uses
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

const activeProtocolsQuery = `
	SELECT id, name, config
	FROM protocols
	WHERE active = true
	ORDER BY id ASC
`

// StoreConfig holds configuration for the protocol store
type StoreConfig struct {
	// TTL is how long a successful load is served before reloading
	TTL time.Duration
	// QueryTimeout bounds a single load
	QueryTimeout time.Duration
}

// DefaultStoreConfig returns sensible defaults
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		TTL:          time.Minute,
		QueryTimeout: 5 * time.Second,
	}
}

// ProtocolStore serves active protocol definitions. Loads go through a
// circuit breaker; while it is open the last successful load is served.
type ProtocolStore struct {
	db      Querier
	breaker *circuitbreaker.CircuitBreaker
	cfg     StoreConfig
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time

	loads singleflight.Group

	mu       sync.Mutex
	cached   []protocol.Definition
	loadedAt time.Time
}

// NewProtocolStore creates a store. breaker may be nil.
func NewProtocolStore(db Querier, breaker *circuitbreaker.CircuitBreaker, cfg StoreConfig, logger *zap.Logger) *ProtocolStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProtocolStore{
		db:      db,
		breaker: breaker,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("protocol-store"),
		now:     time.Now,
	}
}

// Definitions returns the active protocols, reloading when the cache expired
func (s *ProtocolStore) Definitions(ctx context.Context) ([]protocol.Definition, error) {
	s.mu.Lock()
	cached, loadedAt := s.cached, s.loadedAt
	s.mu.Unlock()
	if cached != nil && s.now().Sub(loadedAt) < s.cfg.TTL {
		return cached, nil
	}

	// concurrent callers share one load; it outlives a caller that gives up
	ch := s.loads.DoChan("protocols", func() (interface{}, error) {
		return s.reload(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]protocol.Definition), nil
	}
}

// reload queries the database and stores the result. While the breaker is
// open the previous load is served.
func (s *ProtocolStore) reload(ctx context.Context) ([]protocol.Definition, error) {
	defs, err := s.load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.cached != nil && errors.Is(err, circuitbreaker.ErrOpen) {
			s.logger.Warn("serving stale protocols",
				zap.Time("loaded_at", s.loadedAt),
				zap.Error(err))
			return s.cached, nil
		}
		return nil, err
	}

	s.cached = defs
	s.loadedAt = s.now()
	return defs, nil
}

// Invalidate drops the cached definitions
func (s *ProtocolStore) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Ping checks database connectivity
func (s *ProtocolStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *ProtocolStore) load(ctx context.Context) ([]protocol.Definition, error) {
	ctx, span := s.tracer.Start(ctx, "load_protocols")
	defer span.End()

	if s.breaker == nil {
		defs, err := s.query(ctx)
		if err != nil {
			span.RecordError(err)
		}
		return defs, err
	}

	res, err := s.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return s.query(ctx)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defs := res.([]protocol.Definition)
	span.SetAttributes(attribute.Int("protocols", len(defs)))
	return defs, nil
}

func (s *ProtocolStore) query(ctx context.Context) ([]protocol.Definition, error) {
	if s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}

	rows, err := s.db.Query(ctx, activeProtocolsQuery)
	if err != nil {
		return nil, fmt.Errorf("query protocols: %w", err)
	}
	defer rows.Close()

	defs := []protocol.Definition{}
	for rows.Next() {
		var (
			id     int64
			name   string
			config []byte
		)
		if err := rows.Scan(&id, &name, &config); err != nil {
			return nil, fmt.Errorf("scan protocol: %w", err)
		}
		def, err := decodeConfig(id, name, config)
		if err != nil {
			// kept so compilation reports it next to the other protocols
			s.logger.Warn("undecodable protocol", zap.Int64("protocol_id", id), zap.Error(err))
			def = protocol.Definition{ID: id, Name: name, DecodeErr: err}
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read protocols: %w", err)
	}

	s.logger.Debug("protocols loaded", zap.Int("count", len(defs)))
	return defs, nil
}

// decodeConfig reads the JSON config column. The row id and name take
// precedence over any values inside the document.
func decodeConfig(id int64, name string, config []byte) (protocol.Definition, error) {
	var def protocol.Definition
	if len(config) > 0 {
		if err := json.Unmarshal(config, &def); err != nil {
			return protocol.Definition{}, fmt.Errorf("decode protocol %d: %w", id, err)
		}
	}
	def.ID = id
	if name != "" {
		def.Name = name
	}
	return def, nil
}
