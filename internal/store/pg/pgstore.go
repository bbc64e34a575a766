// Package pg implements every persistence interface on PostgreSQL via pgx.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrInsufficientPriv    = "42501"
)

// Store owns the connection pool and hands out per-domain repositories.
type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Profiles() *Profiles { return &Profiles{db: s.db} }

func (s *Store) Ledger() *Ledger { return &Ledger{db: s.db} }

func (s *Store) Audit() *Audit { return &Audit{db: s.db} }

func (s *Store) Rewards() *Rewards { return &Rewards{db: s.db} }

func (s *Store) Imports() *Imports { return &Imports{db: s.db} }

func (s *Store) Organizations() *Orgs { return &Orgs{db: s.db} }

func (s *Store) Redemptions() *Redemptions { return &Redemptions{db: s.db} }

func (s *Store) Courses() *Courses { return &Courses{db: s.db} }

func (s *Store) Deliveries() *Deliveries { return &Deliveries{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isCode(err error, code string) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == code
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
