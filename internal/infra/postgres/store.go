// Package postgres is a LedgerStore on a plain PostgreSQL database using
// pgx and squirrel. Multi-row writes run in real transactions.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/observability"
	"github.com/boddenberg/milhas-bfa-go/internal/port"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("postgres")

//go:embed schema.sql
var schema string

const (
	storeName       = "postgres"
	uniqueViolation = "23505"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements port.LedgerStore.
type Store struct {
	pool    *pgxpool.Pool
	metrics *observability.Metrics
	logger  *zap.Logger
}

var _ port.LedgerStore = (*Store)(nil)

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn string, metrics *observability.Metrics, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool, metrics: metrics, logger: logger}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	s.logger.Info("postgres schema applied")
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return s.fail("ping", "", nil, err)
	}
	return nil
}

// withTx runs fn in a transaction, rolling back on any error.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, fn)
}

// exec builds and runs a statement, returning the affected row count.
func (s *Store) exec(ctx context.Context, q querier, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, s.fail("build", query, args, err)
	}
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, s.fail("exec", query, args, err)
	}
	return tag.RowsAffected(), nil
}

// fail logs err with its statement and converts it to a domain error.
func (s *Store) fail(stage, query string, args []any, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &domain.ErrConflict{Message: "already exists: " + pgErr.ConstraintName}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrTimeout{Operation: storeName + " " + stage}
	}

	s.metrics.IncrStoreError(storeName)
	s.logger.Error("SQL error",
		zap.String("stage", stage),
		zap.String("query", query),
		zap.Any("args", args),
		zap.Error(err),
	)
	return &domain.ErrPersistence{Store: storeName, Err: err}
}
