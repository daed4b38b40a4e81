// Package postgres implements the persistence ports directly against
// PostgreSQL with database/sql and lib/pq. The cap-check-and-assign step runs
// the same claim_profile_slot function the Supabase backend calls over RPC.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/boddenberg/lead-router-go/internal/domain"
)

var tracer = otel.Tracer("postgres")

//go:embed schema.sql
var schema string

// Store is a PostgreSQL-backed port.Store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, maxConns int, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// New wraps an existing handle.
func New(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Info("postgres schema applied")
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// wrap maps driver errors to domain errors.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return &domain.ErrConflict{Message: fmt.Sprintf("%s: %s", op, pqErr.Message)}
		case "P0002": // no_data_found
			return &domain.ErrNotFound{Resource: "profile", ID: pqErr.Message}
		}
	}
	s.logger.Error("postgres: query failed", zap.String("op", op), zap.Error(err))
	return &domain.ErrPersistence{Op: op, Err: err}
}

// validID reports whether id can be bound to a uuid column.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	i := int(n.Int64)
	return &i
}

// offset converts a 1-based page into LIMIT/OFFSET arguments. A nil limit
// binds as NULL, which Postgres reads as no limit.
func offset(page, pageSize int) (limit any, skip int) {
	if pageSize <= 0 {
		return nil, 0
	}
	if page < 1 {
		page = 1
	}
	return pageSize, (page - 1) * pageSize
}
