package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Options controls how the store is opened.
type Options struct {
	// DatabaseURL is the Postgres DSN. Empty skips Postgres entirely.
	DatabaseURL string
	// SQLitePath is the fallback database file.
	SQLitePath string
	// ConnectTimeout bounds the initial Postgres ping.
	ConnectTimeout time.Duration
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxLife    time.Duration
}

// Handle is the store plus the backend it ended up on. The backend is
// decided exactly once, at open time; nothing re-evaluates it later.
type Handle struct {
	*Store
	Backend string
}

// Open connects to Postgres when a URL is configured and it answers a
// ping within the timeout, otherwise falls back to the local SQLite file.
// Migrations run against whichever backend won.
func Open(ctx context.Context, log *slog.Logger, opts Options) (*Handle, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	if opts.DatabaseURL != "" {
		st, err := openPostgres(ctx, opts)
		if err == nil {
			log.Info("Connected to primary database", "backend", DriverPostgres)
			return &Handle{Store: st, Backend: DriverPostgres}, nil
		}
		log.Warn("Primary database unavailable, falling back to SQLite", "error", err)
	}

	st, err := openSQLite(ctx, opts)
	if err != nil {
		return nil, err
	}
	log.Info("Connected to fallback database", "backend", DriverSQLite, "path", opts.SQLitePath)
	return &Handle{Store: st, Backend: DriverSQLite}, nil
}

func openPostgres(ctx context.Context, opts Options) (*Store, error) {
	db, err := sql.Open(DriverPostgres, opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	tunePool(db, opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := RunMigrations(DriverPostgres, opts.DatabaseURL); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db, DriverPostgres), nil
}

func openSQLite(ctx context.Context, opts Options) (*Store, error) {
	if dir := filepath.Dir(opts.SQLitePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %s: %w", dir, err)
		}
	}
	dsn := opts.SQLitePath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers anyway; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := RunMigrations(DriverSQLite, dsn); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db, DriverSQLite), nil
}

func tunePool(db *sql.DB, opts Options) {
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLife > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLife)
	}
}

// Status reports the backend name and current ping latency.
func (h *Handle) Status(ctx context.Context) (string, time.Duration, error) {
	start := time.Now()
	err := h.Ping(ctx)
	return h.Backend, time.Since(start), err
}
