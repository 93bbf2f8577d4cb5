package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Schema version tracking:
// 0 - empty database
// 1 - events, current_state, log_head, annotations
const currentSchemaVersion = 1

// Driver selects the SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver converts a configuration value to a Driver.
func ParseDriver(s string) (Driver, error) {
	switch Driver(s) {
	case DriverSQLite, "sqlite3", "":
		return DriverSQLite, nil
	case DriverPostgres, "postgresql", "pgx":
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("unknown store driver %q", s)
}

// sqlName is the database/sql driver registered for d.
func (d Driver) sqlName() string {
	if d == DriverPostgres {
		return "pgx"
	}
	return "sqlite3"
}

// Clock supplies server timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Store.
type Option func(*Store)

// WithClock sets the source of server timestamps.
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Store is the durable event log with its projection and annotation tables.
//
// Every query uses $N placeholders, numbered in order of first appearance,
// so the same statements run on SQLite and Postgres.
//
// Writes go through db. Reads go through reader, which is a separate
// query-only pool for file-backed SQLite and the same handle otherwise.
type Store struct {
	db     *sql.DB
	reader *sql.DB
	driver Driver
	clock  Clock
}

// Open connects to the database, applies pragmas and migrations.
//
// For SQLite the database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// and a second, query-only pool serves reads so WAL readers run alongside
// the single writer.
//
// This function is idempotent - safe to call multiple times.
func Open(driver Driver, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open(driver.sqlName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite only supports one writer at a time, so limit the write pool.
		// Reads use their own pool below.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	s := New(db, driver, opts...)
	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	if driver == DriverSQLite && !isMemoryDSN(dsn) {
		reader, err := openReader(dsn)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.reader = reader
	}
	return s, nil
}

// readerPoolSize bounds concurrent SQLite read transactions.
const readerPoolSize = 4

// openReader opens the query-only SQLite pool used for reads. The schema must
// already exist.
func openReader(dsn string) (*sql.DB, error) {
	reader, err := sql.Open(DriverSQLite.sqlName(), readerDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}
	if err := reader.Ping(); err != nil {
		reader.Close()
		return nil, fmt.Errorf("failed to connect read pool: %w", err)
	}
	reader.SetMaxOpenConns(readerPoolSize)
	reader.SetMaxIdleConns(readerPoolSize)
	return reader, nil
}

// readerDSN adds the connection parameters of the read pool.
func readerDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_query_only=1&_busy_timeout=5000"
}

// isMemoryDSN reports whether dsn names an in-memory SQLite database. Each
// connection to such a database would see its own empty copy, so reads share
// the write handle.
func isMemoryDSN(dsn string) bool {
	return dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// New wraps an already configured handle. No schema is applied.
func New(db *sql.DB, driver Driver, opts ...Option) *Store {
	s := &Store{db: db, reader: db, driver: driver, clock: systemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database connections.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	var rerr error
	if s.reader != nil && s.reader != s.db {
		rerr = s.reader.Close()
	}
	return errors.Join(s.db.Close(), rerr)
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver reports the backend in use.
func (s *Store) Driver() Driver {
	return s.driver
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and records the version.
func (s *Store) applySchema() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, currentSchemaVersion)
	}

	ddl := sqliteSchema
	if s.driver == DriverPostgres {
		ddl = postgresSchema
	}
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return s.setSchemaVersion(currentSchemaVersion)
}

// schemaVersion reads the stored schema version; 0 for a fresh database.
func (s *Store) schemaVersion() (int, error) {
	var version int
	if s.driver == DriverSQLite {
		if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
			return 0, fmt.Errorf("get user_version: %w", err)
		}
		return version, nil
	}

	var exists bool
	if err := s.db.QueryRow(`SELECT to_regclass('schema_meta') IS NOT NULL`).Scan(&exists); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	if !exists {
		return 0, nil
	}
	err := s.db.QueryRow(`SELECT version FROM schema_meta WHERE id = 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(v int) error {
	var err error
	if s.driver == DriverSQLite {
		_, err = s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v))
	} else {
		_, err = s.db.Exec(`
			INSERT INTO schema_meta (id, version) VALUES (1, $1)
			ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version
		`, v)
	}
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ querier = (*sql.DB)(nil)
	_ querier = (*sql.Tx)(nil)
)
