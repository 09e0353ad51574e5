// Package db provides the SQLite connection and schema used by the key-value store.
package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mitchellh/go-homedir"
	_ "modernc.org/sqlite"
)

// StorageMode selects where the database lives.
type StorageMode string

const (
	StorageMemory StorageMode = "memory" // ephemeral, no file
	StorageTemp   StorageMode = "temp"   // fixed path under os.TempDir()
	StorageDisk   StorageMode = "disk"   // relative to the working directory
)

// Supported database/sql driver names.
const (
	DriverMattn   = "sqlite3" // github.com/mattn/go-sqlite3 (cgo)
	DriverModernc = "sqlite"  // modernc.org/sqlite (pure Go)
)

const (
	DefaultFilename    = "database.sqlite"
	DefaultJournalMode = "WAL"
	memoryPath         = ":memory:"
)

var (
	ErrUnknownDriver      = errors.New("unknown sqlite driver")
	ErrUnknownStorage     = errors.New("unknown storage mode")
	ErrInvalidJournalMode = errors.New("invalid journal mode")
	ErrInvalidIdentifier  = errors.New("invalid table name")
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var journalModes = map[string]bool{
	"DELETE":   true,
	"TRUNCATE": true,
	"PERSIST":  true,
	"MEMORY":   true,
	"WAL":      true,
	"OFF":      true,
}

// Options describes how to open the database.
type Options struct {
	Driver      string
	Filename    string
	Storage     StorageMode
	JournalMode string
}

func (o Options) withDefaults() Options {
	if o.Driver == "" {
		o.Driver = DriverMattn
	}
	if o.Filename == "" {
		o.Filename = DefaultFilename
	}
	if o.Storage == "" {
		o.Storage = StorageDisk
	}
	if o.JournalMode == "" {
		o.JournalMode = DefaultJournalMode
	}
	o.JournalMode = strings.ToUpper(o.JournalMode)
	return o
}

// Validate checks driver, storage mode and journal mode.
func (o Options) Validate() error {
	o = o.withDefaults()
	switch o.Driver {
	case DriverMattn, DriverModernc:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, o.Driver)
	}
	switch o.Storage {
	case StorageMemory, StorageTemp, StorageDisk:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStorage, o.Storage)
	}
	if !journalModes[o.JournalMode] {
		return fmt.Errorf("%w: %q", ErrInvalidJournalMode, o.JournalMode)
	}
	return nil
}

// ResolvePath returns the database path for the configured storage mode.
func ResolvePath(opts Options) (string, error) {
	opts = opts.withDefaults()

	switch opts.Storage {
	case StorageMemory:
		return memoryPath, nil
	case StorageTemp:
		return filepath.Join(os.TempDir(), filepath.Base(opts.Filename)), nil
	case StorageDisk:
		expanded, err := homedir.Expand(opts.Filename)
		if err != nil {
			return "", fmt.Errorf("failed to expand database path: %w", err)
		}
		abs, err := filepath.Abs(expanded)
		if err != nil {
			return "", fmt.Errorf("failed to resolve database path: %w", err)
		}
		return abs, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStorage, opts.Storage)
	}
}

// EnsureDir creates the parent directory of path. Existing directories are fine.
func EnsureDir(path string) error {
	if path == memoryPath {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

// DB wraps the connection pool together with one pinned connection.
// All statements run on Conn so that BEGIN/COMMIT and in-memory databases
// see a single SQLite session.
type DB struct {
	pool *sqlx.DB
	Conn *sqlx.Conn

	Path     string
	Driver   string
	Filename string
}

// Open opens the database, pins a connection and applies pragmas.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	path, err := ResolvePath(opts)
	if err != nil {
		return nil, err
	}
	if err := EnsureDir(path); err != nil {
		return nil, err
	}

	pool, err := sqlx.Open(opts.Driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn, err := pool.Connx(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	d := &DB{
		pool:     pool,
		Conn:     conn,
		Path:     path,
		Driver:   opts.Driver,
		Filename: opts.Filename,
	}

	if _, err := conn.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Key patterns are matched by LIKE, which otherwise folds ASCII case.
	if _, err := conn.ExecContext(ctx, `PRAGMA case_sensitive_like = ON`); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to enable case-sensitive LIKE: %w", err)
	}

	// journal_mode returns the mode actually in effect; in-memory
	// databases always report "memory".
	var mode string
	if err := conn.GetContext(ctx, &mode, `PRAGMA journal_mode = `+opts.JournalMode); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}

	return d, nil
}

// QuoteIdentifier validates name and returns it double-quoted for SQL.
func QuoteIdentifier(name string) (string, error) {
	if !identifierRe.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return `"` + name + `"`, nil
}

// EnsureTable creates the key-value table if it does not exist.
func (d *DB) EnsureTable(ctx context.Context, table string) error {
	quoted, err := QuoteIdentifier(table)
	if err != nil {
		return err
	}

	_, err = d.Conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+quoted+` (
			key TEXT PRIMARY KEY,
			value TEXT,
			expiry INTEGER,
			one_time INTEGER DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create %s table: %w", table, err)
	}
	return nil
}

// JournalMode queries the journal mode currently in effect.
func (d *DB) JournalMode(ctx context.Context) (string, error) {
	var mode string
	if err := d.Conn.GetContext(ctx, &mode, `PRAGMA journal_mode`); err != nil {
		return "", fmt.Errorf("failed to query journal mode: %w", err)
	}
	return mode, nil
}

// InMemory reports whether the database has no backing file.
func (d *DB) InMemory() bool {
	return d.Path == memoryPath
}

// FileSize returns the size of the database file, 0 for in-memory databases.
func (d *DB) FileSize() (int64, error) {
	if d.InMemory() {
		return 0, nil
	}
	info, err := os.Stat(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to stat database file: %w", err)
	}
	return info.Size(), nil
}

// WALExists reports whether the write-ahead log side file is present.
func (d *DB) WALExists() bool {
	if d.InMemory() {
		return false
	}
	_, err := os.Stat(d.Path + "-wal")
	return err == nil
}

// Close releases the pinned connection and the pool.
func (d *DB) Close() error {
	connErr := d.Conn.Close()
	poolErr := d.pool.Close()
	return errors.Join(connErr, poolErr)
}
