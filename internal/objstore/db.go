package objstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// UpgradeFunc applies schema changes from oldVersion up to the version passed
// to Open. It runs inside the upgrade transaction.
type UpgradeFunc func(tx *UpgradeTx, oldVersion int) error

// Options configures Open.
type Options struct {
	// Version is the schema version the caller needs. Must be >= 1.
	Version int
	// Upgrade runs when Version exceeds the stored version. Optional.
	Upgrade UpgradeFunc
	// BusyTimeout bounds how long a write waits for another connection's lock.
	// Defaults to 5s.
	BusyTimeout time.Duration
	// Synchronous is the SQLite synchronous pragma (OFF, NORMAL, FULL, EXTRA).
	// Defaults to NORMAL.
	Synchronous string
	// Logger receives open and upgrade logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// DB is an open, versioned record store.
type DB struct {
	db      *sql.DB // writer, also used by the upgrade
	reader  *sql.DB // deferred, query_only connections for View
	path    string
	version int
	catalog catalog
	logger  *slog.Logger
}

// Open creates or opens the database at path and brings it to opts.Version.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - opts.Synchronous (NORMAL by default)
//   - opts.BusyTimeout for lock contention
//   - a single writer connection, since SQLite supports one writer at a time
//   - a separate pool of query_only connections whose transactions begin
//     deferred, so reads never take the write lock
func Open(ctx context.Context, path string, opts Options) (*DB, error) {
	if opts.Version < 1 {
		return nil, fmt.Errorf("objstore: version must be >= 1, got %d", opts.Version)
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.Synchronous == "" {
		opts.Synchronous = "NORMAL"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	// Write transactions take the lock at BEGIN so a busy database surfaces
	// through busy_timeout instead of failing mid-transaction.
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("objstore: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("objstore: connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db, opts); err != nil {
		db.Close()
		return nil, err
	}

	s := &DB{db: db, path: path, logger: opts.Logger.With("db", path)}
	if err := s.migrate(ctx, opts); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadCatalog(ctx); err != nil {
		db.Close()
		return nil, err
	}

	reader, err := sql.Open("sqlite3", fmt.Sprintf("%s?_txlock=deferred&_query_only=true&_busy_timeout=%d",
		path, opts.BusyTimeout.Milliseconds()))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("objstore: open reader: %w", err)
	}
	reader.SetMaxOpenConns(readerConns)
	s.reader = reader
	return s, nil
}

const readerConns = 4

// Close closes the database. Safe to call on a nil or closed DB.
func (s *DB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var rerr error
	if s.reader != nil {
		rerr = s.reader.Close()
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	return rerr
}

// Path returns the database file path.
func (s *DB) Path() string { return s.path }

// Version returns the schema version the database was opened at.
func (s *DB) Version() int { return s.version }

func applyPragmas(ctx context.Context, db *sql.DB, opts Options) error {
	switch opts.Synchronous {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("objstore: invalid synchronous mode %q", opts.Synchronous)
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = " + opts.Synchronous,
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			if isBusy(err) {
				return fmt.Errorf("%w: %q: %v", ErrBlocked, pragma, err)
			}
			return fmt.Errorf("objstore: execute %q: %w", pragma, err)
		}
	}
	return nil
}

func readUserVersion(ctx context.Context, q querier) (int, error) {
	var version int
	if err := q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("objstore: read user_version: %w", err)
	}
	return version, nil
}

// migrate runs the upgrade callback when the requested version is newer than
// the stored one. The stored version is re-read after the write lock is held,
// so two openers racing for the same upgrade apply it once.
func (s *DB) migrate(ctx context.Context, opts Options) error {
	stored, err := readUserVersion(ctx, s.db)
	if err != nil {
		return err
	}
	if opts.Version < stored {
		return fmt.Errorf("%w: requested %d, stored %d", ErrVersion, opts.Version, stored)
	}
	if opts.Version == stored {
		s.version = stored
		return nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("objstore: acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		if isBusy(err) {
			return fmt.Errorf("%w: upgrade to version %d: %v", ErrBlocked, opts.Version, err)
		}
		return fmt.Errorf("objstore: begin upgrade: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	stored, err = readUserVersion(ctx, conn)
	if err != nil {
		return err
	}
	if opts.Version <= stored {
		if opts.Version < stored {
			return fmt.Errorf("%w: requested %d, stored %d", ErrVersion, opts.Version, stored)
		}
		s.version = stored
		return nil
	}

	if err := ensureCatalogTables(ctx, conn); err != nil {
		return err
	}

	s.logger.Info("upgrading schema", "from", stored, "to", opts.Version)
	if opts.Upgrade != nil {
		utx := &UpgradeTx{ctx: ctx, q: conn}
		if err := utx.loadCatalog(); err != nil {
			return err
		}
		if err := opts.Upgrade(utx, stored); err != nil {
			return fmt.Errorf("objstore: upgrade from version %d: %w", stored, err)
		}
	}

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", opts.Version)); err != nil {
		return fmt.Errorf("objstore: set user_version: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		if isBusy(err) {
			return fmt.Errorf("%w: commit upgrade: %v", ErrBlocked, err)
		}
		return fmt.Errorf("objstore: commit upgrade: %w", err)
	}
	committed = true
	s.version = opts.Version
	s.logger.Info("schema upgraded", "version", opts.Version)
	return nil
}

// querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
