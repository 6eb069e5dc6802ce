package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLite is a Store in one SQLite file, opened in WAL mode.
type SQLite struct {
	db    *sql.DB
	quota int64
}

// SQLiteOption customises OpenSQLite.
type SQLiteOption func(*sqliteConfig)

type sqliteConfig struct {
	busyTimeout int
	synchronous string
	quota       int64
}

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) SQLiteOption { return func(c *sqliteConfig) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: NORMAL.
func WithSynchronous(mode string) SQLiteOption { return func(c *sqliteConfig) { c.synchronous = mode } }

// WithQuota caps the total value bytes. 0 (default) is unlimited.
func WithQuota(bytes int64) SQLiteOption { return func(c *sqliteConfig) { c.quota = bytes } }

// OpenSQLite opens (creating if needed) the store at path. ":memory:"
// gives a private in-memory database.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	cfg := sqliteConfig{busyTimeout: 10_000, synchronous: "NORMAL"}
	for _, o := range opts {
		o(&cfg)
	}
	syncMode := strings.ToUpper(cfg.synchronous)
	switch syncMode {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return nil, fmt.Errorf("kvstore: synchronous %q: want OFF, NORMAL, FULL or EXTRA", cfg.synchronous)
	}
	if cfg.busyTimeout < 0 {
		return nil, fmt.Errorf("kvstore: busy timeout %d: negative", cfg.busyTimeout)
	}

	memory := path == ":memory:"
	dsn := path
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("kvstore: mkdir: %w", err)
		}
		// Pragmas in the DSN run on every pooled connection.
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(%s)&_pragma=busy_timeout(%d)",
			path, syncMode, cfg.busyTimeout)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open: %w", err)
	}

	stmts := []string{schema}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		stmts = []string{
			fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
			fmt.Sprintf("PRAGMA synchronous = %s", syncMode),
			schema,
		}
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("kvstore: %s: %w", firstLine(s), err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvstore: ping: %w", err)
	}
	return &SQLite{db: db, quota: cfg.quota}, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kvstore: begin: %w", err)
	}
	defer tx.Rollback()

	if s.quota > 0 {
		var inUse int64
		var old int
		err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(length(value)), 0),
			COALESCE(SUM(CASE WHEN key = ? THEN length(value) END), 0) FROM kv`, key).Scan(&inUse, &old)
		if err != nil {
			return fmt.Errorf("kvstore: usage: %w", err)
		}
		if err := checkQuota(s.quota, inUse, old, len(value), key); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("kvstore: put %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *SQLite) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		var v []byte
		err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, k).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("kvstore: get %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func (s *SQLite) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k); err != nil {
			return fmt.Errorf("kvstore: delete %s: %w", k, err)
		}
	}
	return nil
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	st := Stats{QuotaBytes: s.quota}
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(length(value)), 0) FROM kv`).
		Scan(&st.Keys, &st.BytesInUse)
	if err != nil {
		return Stats{}, fmt.Errorf("kvstore: stats: %w", err)
	}
	return st, nil
}

func (s *SQLite) Close() error { return s.db.Close() }
