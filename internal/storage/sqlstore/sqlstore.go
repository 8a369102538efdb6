// Package sqlstore implements storage.Storage on a relational database.
// SQLite (mattn/go-sqlite3) and PostgreSQL (lib/pq or pgx) are supported.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"library-manager/internal/storage"
)

// Supported database/sql driver names
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

// SQLStore is a storage.Storage backed by database/sql
type SQLStore struct {
	*queries
	db     *sqlx.DB
	driver string
	logger *zap.Logger
}

// Option configures a SQLStore
type Option func(*SQLStore)

// WithLogger sets the logger used for migrations and transaction failures
func WithLogger(logger *zap.Logger) Option {
	return func(s *SQLStore) {
		s.logger = logger
	}
}

// Open connects to the database identified by driver and dsn
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// One writer at a time; busy_timeout covers the waiting
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{
		db:     db,
		driver: driver,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queries = newQueries(db, dialect, driver != DriverSQLite)

	return s, nil
}

func dialectFor(driver string) (string, error) {
	switch driver {
	case DriverSQLite:
		return "sqlite3", nil
	case DriverPostgres, DriverPgx:
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// sqliteOptions are the connection options the store relies on. Each entry
// lists the go-sqlite3 spellings of one option.
var sqliteOptions = []struct {
	keys  []string
	value string
}{
	{keys: []string{"_busy_timeout", "_timeout"}, value: "5000"},
	{keys: []string{"_foreign_keys", "_fk"}, value: "1"},
	{keys: []string{"_journal_mode", "_journal"}, value: "WAL"},
	{keys: []string{"_txlock"}, value: "immediate"},
}

// sqliteDSN appends every store option the caller did not set explicitly
func sqliteDSN(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	path, rawQuery, _ := strings.Cut(dsn, "?")
	query, _ := url.ParseQuery(rawQuery)

	params := []string{}
	if rawQuery != "" {
		params = append(params, rawQuery)
	}
	for _, opt := range sqliteOptions {
		if !hasAnyKey(query, opt.keys) {
			params = append(params, opt.keys[0]+"="+opt.value)
		}
	}
	return path + "?" + strings.Join(params, "&")
}

func hasAnyKey(query url.Values, keys []string) bool {
	for _, k := range keys {
		if query.Has(k) {
			return true
		}
	}
	return false
}

// Initialize applies all pending migrations
func (s *SQLStore) Initialize(ctx context.Context) error {
	m, err := NewMigrator(s)
	if err != nil {
		return err
	}
	return m.Up(ctx)
}

// RunInTx runs fn inside a database transaction
func (s *SQLStore) RunInTx(ctx context.Context, fn func(tx storage.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(newQueries(tx, s.queries.dialectName, s.queries.returning)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, context.Canceled) {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Driver returns the database/sql driver name in use
func (s *SQLStore) Driver() string {
	return s.driver
}

// DB exposes the underlying connection pool
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ storage.Storage = (*SQLStore)(nil)
