package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Clark-Hu/upskillpro-ratings/internal/config"
)

const (
	applicationName        = "upskillpro-ratings"
	defaultConnectAttempts = 5
	connectBackoff         = 500 * time.Millisecond
)

var (
	// ErrNotInitialized is returned by methods of a nil or closed Store.
	ErrNotInitialized = errors.New("store: not initialized")
	// ErrSchemaMissing means the rating table has not been migrated.
	ErrSchemaMissing = errors.New("store: rating_items table missing")
)

// Options controls the rating table connection pool.
type Options struct {
	MaxConns               int32
	MinConns               int32
	MaxConnIdleTime        time.Duration
	MaxConnLifetime        time.Duration
	ConnTimeout            time.Duration
	StatementCacheCapacity int
	// ConnectAttempts bounds the startup pings against a database that is
	// still coming up.
	ConnectAttempts int
	Logger          *zap.Logger
}

// OptionsFromConfig maps the DB_* settings onto pool options.
func OptionsFromConfig(cfg config.Config, logger *zap.Logger) Options {
	return Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		ConnectAttempts:        defaultConnectAttempts,
		Logger:                 logger,
	}
}

// Store owns the process-wide pool behind the rating table, the course and
// user directories and the enrollments table.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	opts   Options
}

// New builds the pool and waits until the database answers.
func New(ctx context.Context, dbURL string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	poolCfg, err := poolConfig(dbURL, opts)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	s := &Store{pool: pool, logger: opts.Logger, opts: opts}
	if err := s.waitReady(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s.logger.Info("store: connected",
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns),
		zap.Int32("min_conns", poolCfg.MinConns),
		zap.Int("stmt_cache", opts.StatementCacheCapacity),
	)
	return s, nil
}

func poolConfig(dbURL string, opts Options) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.ConnTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = opts.ConnTimeout
	}
	if opts.StatementCacheCapacity > 0 {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
		cfg.ConnConfig.StatementCacheCapacity = opts.StatementCacheCapacity
	} else {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec
	}
	return cfg, nil
}

func (s *Store) waitReady(ctx context.Context) error {
	attempts := max(s.opts.ConnectAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = s.ping(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		s.logger.Warn("store: database not ready", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping postgres: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * connectBackoff):
		}
	}
	return fmt.Errorf("ping postgres: %w", err)
}

func (s *Store) ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.ConnTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.ConnTimeout)
	}
	return context.WithCancel(ctx)
}

// Close releases database resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.logger.Info("store: closing connection pool")
	s.pool.Close()
}

// HealthCheck fails when the database is unreachable or the rating table
// has not been migrated.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrNotInitialized
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var migrated bool
	if err := s.pool.QueryRow(ctx, `SELECT to_regclass('rating_items') IS NOT NULL`).Scan(&migrated); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if !migrated {
		return ErrSchemaMissing
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrNotInitialized
	}
	return Migrate(ctx, s.pool, s.logger)
}

// Pool exposes the pool to the repositories and the enrollment oracle.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
