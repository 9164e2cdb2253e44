// Package sqlstore implements the repository interfaces on top of sqlx, for
// both SQLite (modernc.org/sqlite, pure Go) and PostgreSQL (lib/pq).
//
// ONE STORE, TWO DIALECTS:
// Every query is written once with "?" placeholders and rebound for the
// driver in use (PostgreSQL wants $1, $2, ...). The only dialect-specific
// SQL is the schema DDL in migrate.go. Upserts use ON CONFLICT ... DO
// UPDATE, which both databases understand.
//
// DSN FORMS ACCEPTED BY Open:
//   - "sqlite://data/chatcode.db" or a bare path   → SQLite file
//   - ":memory:" or "sqlite://:memory:"           → in-memory SQLite (tests)
//   - "postgres://..." or "postgresql://..."      → PostgreSQL
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/chatcode/internal/repository"
)

// DefaultDSN is used when DB_URL is empty.
const DefaultDSN = "sqlite://data/chatcode.db"

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// sqlitePragmas are applied to every pooled connection.
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// sqliteFileOptions are added for file databases only. _txlock=immediate
// takes the write lock at BEGIN, so two transactions never fail on a
// read-to-write lock upgrade.
const sqliteFileOptions = "&_pragma=journal_mode(WAL)&_txlock=immediate"

func init() {
	// sqlx does not know modernc's driver name; it takes "?" placeholders.
	sqlx.BindDriver(driverSQLite, sqlx.QUESTION)
}

// Store is the sqlx-backed repository.Store.
//
// A Store returned by Open owns the connection pool (db != nil). The Store
// handed to an InTx callback is bound to the transaction and has db == nil.
type Store struct {
	db     *sqlx.DB
	ext    sqlx.ExtContext
	driver string
}

var _ repository.Store = (*Store)(nil)

// Open connects to the database described by dsn, verifies the connection
// and runs the idempotent schema migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	driver, source, memory, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}

	if driver == driverSQLite && !memory {
		if dir := filepath.Dir(strings.SplitN(source, "?", 2)[0]); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlstore: creating database directory: %w", err)
			}
		}
	}

	db, err := sqlx.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening %s database: %w", driver, err)
	}

	// CONNECTION POOL:
	// An in-memory SQLite database exists per connection, so the pool must
	// never open a second one or it would see an empty schema.
	if memory {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: pinging %s database: %w", driver, err)
	}

	s := &Store{db: db, ext: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: running migrations: %w", err)
	}

	return s, nil
}

// parseDSN maps a DB_URL value to a driver name and a driver-specific
// data source.
func parseDSN(dsn string) (driver, source string, memory bool, err error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = DefaultDSN
	}

	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return driverPostgres, dsn, false, nil
	case strings.Contains(dsn, "://") && !strings.HasPrefix(dsn, "sqlite://"):
		return "", "", false, fmt.Errorf("sqlstore: unsupported database URL scheme in %q", redact(dsn))
	}

	path := strings.TrimPrefix(dsn, "sqlite://")
	if path == "" {
		return "", "", false, errors.New("sqlstore: sqlite URL has no path")
	}

	if path == ":memory:" {
		return driverSQLite, ":memory:?" + sqlitePragmas, true, nil
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return driverSQLite, path + sep + sqlitePragmas + sqliteFileOptions, false, nil
}

// redact hides the password of a URL-shaped DSN for error messages.
func redact(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at > 0 {
		if scheme := strings.Index(dsn, "://"); scheme >= 0 && scheme < at {
			return dsn[:scheme+3] + "***" + dsn[at:]
		}
	}
	return dsn
}

// Driver returns "sqlite" or "postgres".
func (s *Store) Driver() string {
	return s.driver
}

// Close closes the connection pool. Calling it on a transaction-bound
// Store is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

// InTx runs fn inside a transaction. A Store that is already bound to a
// transaction joins it instead of nesting.
func (s *Store) InTx(ctx context.Context, fn func(repository.Store) error) (err error) {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{ext: tx, driver: s.driver}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: committing transaction: %w", err)
	}
	return nil
}

// rebind converts "?" placeholders to the driver's bind style.
func (s *Store) rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(s.driver), query)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.ext.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, s.ext, dest, s.rebind(query), args...)
}

func (s *Store) selectRows(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, s.ext, dest, s.rebind(query), args...)
}

// isUniqueViolation reports whether err is a unique or primary key
// constraint failure from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// now returns the timestamp stored in created_at/updated_at columns.
// UTC with a fixed layout keeps SQLite's text timestamps ordered.
func now() time.Time {
	return time.Now().UTC()
}
