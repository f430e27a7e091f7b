// Package store persists transactions, rules and bank accounts in SQLite or
// PostgreSQL through database/sql.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timestampLayout sorts lexically in creation order.
const timestampLayout = "2006-01-02 15:04:05.000000"

// Config selects the database.
type Config struct {
	Driver string // "sqlite" (default) or "postgres"
	DSN    string // file path for sqlite, connection URL for postgres
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops holds the queries shared by Store and Tx.
type ops struct {
	q      querier
	driver string
	now    func() time.Time
}

// Store is a database handle. Its methods run outside any transaction.
type Store struct {
	ops
	db  *sql.DB
	log zerolog.Logger
}

// Tx is a storage transaction. Nothing is visible to other connections
// until Commit.
type Tx struct {
	ops
	tx *sql.Tx
}

// Open connects to the configured database and creates missing tables.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var dsn string
	switch driver {
	case DriverSQLite:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("sqlite database path is required")
		}
		if !strings.HasPrefix(cfg.DSN, "file:") && !isMemoryDSN(cfg.DSN) {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		dsn = sqliteDSN(cfg.DSN)
	case DriverPostgres:
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer at a time; readers are served from WAL
		db.SetMaxOpenConns(4)
		if isMemoryDSN(cfg.DSN) {
			// every connection to :memory: is a separate empty database
			db.SetMaxOpenConns(1)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", driver, err)
	}

	s := &Store{
		ops: ops{q: db, driver: driver, now: time.Now},
		db:  db,
		log: log.With().Str("component", "store").Str("driver", driver).Logger(),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep +
		"_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"
}

// migrate creates tables that do not exist yet.
func (s *Store) migrate(ctx context.Context) error {
	data, err := schemaFS.ReadFile("schema/" + s.driver + ".sql")
	if err != nil {
		return fmt.Errorf("reading %s schema: %w", s.driver, err)
	}
	for _, stmt := range strings.Split(string(data), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	s.log.Debug().Msg("schema up to date")
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Tx{ops: ops{q: tx, driver: s.driver, now: s.now}, tx: tx}, nil
}

// WithTx runs fn in a transaction, committing when fn returns nil and
// rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
		} else if cErr := tx.Commit(); cErr != nil {
			err = cErr
		}
	}()
	return fn(tx)
}

// Commit makes the transaction durable.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Rollback discards the transaction.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (o *ops) rebind(query string) string {
	if o.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (o *ops) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return o.q.ExecContext(ctx, o.rebind(query), args...)
}

func (o *ops) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return o.q.QueryContext(ctx, o.rebind(query), args...)
}

func (o *ops) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return o.q.QueryRowContext(ctx, o.rebind(query), args...)
}

func (o *ops) timestamp() string {
	return o.now().UTC().Format(timestampLayout)
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullInt(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
