package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrLimitReached        = errors.New("wallet limit reached")
	ErrAlreadyExists       = errors.New("already exists")
	ErrAlreadyConfirmed    = errors.New("transaction already confirmed")
	ErrNotOwner            = errors.New("wallet is not owned by user")
	ErrNotPending          = errors.New("payment is not pending")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Storage handles all database operations
type Storage struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// New opens the database named by dsn and creates the schema.
// A postgres:// or postgresql:// DSN selects Postgres; anything else is a SQLite file path.
func New(dsn string) (*Storage, error) {
	var (
		db  *sql.DB
		d   dialect
		err error
	)

	if isPostgres(dsn) {
		d = dialectPostgres
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	} else {
		d = dialectSQLite
		path := strings.TrimPrefix(dsn, "sqlite://")
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		db, err = sql.Open("sqlite3", path+sep+"_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// One connection serializes writers inside the process.
		db.SetMaxOpenConns(1)
	}

	s := &Storage{db: db, dialect: d, now: time.Now}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Backend returns "sqlite" or "postgres".
func (s *Storage) Backend() string {
	if s.dialect == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

func (s *Storage) init() error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == dialectPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			auto_credit INTEGER NOT NULL DEFAULT 0,
			allowed INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS wallets (
			id ` + pk + `,
			user_id BIGINT NOT NULL,
			address TEXT NOT NULL UNIQUE,
			label TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_wallets_user_id ON wallets(user_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_wallets_one_active ON wallets(user_id) WHERE is_active = 1`,

		`CREATE TABLE IF NOT EXISTS pending_payments (
			id ` + pk + `,
			user_id BIGINT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			wallet_address TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			callback_url TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			transaction_hash TEXT,
			created_at BIGINT NOT NULL,
			confirmed_at BIGINT,
			expires_at BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_wallet_status ON pending_payments(wallet_address, status)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_user_id ON pending_payments(user_id)`,

		`CREATE TABLE IF NOT EXISTS confirmed_payments (
			id ` + pk + `,
			user_id BIGINT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			transaction_hash TEXT NOT NULL UNIQUE,
			wallet_address TEXT NOT NULL,
			from_address TEXT NOT NULL DEFAULT '',
			pending_id BIGINT,
			confirmed_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_confirmed_user_id ON confirmed_payments(user_id)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			api_key TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at BIGINT NOT NULL,
			last_used_at BIGINT
		)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id ` + pk + `,
			user_id BIGINT NOT NULL,
			kind TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			transaction_hash TEXT NOT NULL DEFAULT '',
			wallet_address TEXT NOT NULL DEFAULT '',
			is_read INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user_id ON notifications(user_id, is_read)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Storage) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Storage) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Storage) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Storage) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

// withTx runs fn inside a transaction. Inside fn only tx may be used; the
// SQLite pool holds a single connection.
func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
