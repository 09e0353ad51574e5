package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/kvlite/internal/db"
)

const (
	DefaultTable      = "kv_store"
	DefaultExportPath = "database_export.json"
)

type lifecycle int

const (
	unopened lifecycle = iota
	opened
	closed
)

// Options configures a Store. Use DefaultOptions as a starting point.
type Options struct {
	Table      string
	AutoCommit bool
	ExportPath string

	// Now overrides the clock used for expiry. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns options with the kv_store table and auto-commit on.
func DefaultOptions() Options {
	return Options{
		Table:      DefaultTable,
		AutoCommit: true,
		ExportPath: DefaultExportPath,
	}
}

// SetOption modifies a single Set call.
type SetOption func(*setParams)

type setParams struct {
	oneTime bool
	expiry  sql.NullInt64
}

// OneTime marks the record for deletion after its first successful read.
func OneTime() SetOption {
	return func(p *setParams) {
		p.oneTime = true
	}
}

// record mirrors one row of the table. Expiry is scanned as text so that
// a malformed value can be reported instead of failing the scan.
type record struct {
	Value   sql.NullString `db:"value"`
	Expiry  sql.NullString `db:"expiry"`
	OneTime sql.NullInt64  `db:"one_time"`
}

// Store is a key-value store over one SQLite table. It owns its connection;
// calls on one Store are serialised.
type Store struct {
	mu sync.Mutex

	dbOpts db.Options
	opts   Options
	now    func() time.Time

	db    *db.DB
	table string // quoted identifier
	state lifecycle

	inTransaction bool
	txID          string

	sweepStop    chan struct{}
	sweepStopped chan struct{}
}

// New creates an unopened store. Call Init before use.
func New(dbOpts db.Options, opts Options) *Store {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if opts.ExportPath == "" {
		opts.ExportPath = DefaultExportPath
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		dbOpts: dbOpts,
		opts:   opts,
		now:    now,
	}
}

// Init opens the database and creates the table. It is a no-op when the
// store is already open; a closed store cannot be reopened.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case opened:
		return nil
	case closed:
		return ErrNotInitialized
	}

	table, err := db.QuoteIdentifier(s.opts.Table)
	if err != nil {
		return err
	}

	handle, err := db.Open(ctx, s.dbOpts)
	if err != nil {
		return err
	}
	if err := handle.EnsureTable(ctx, s.opts.Table); err != nil {
		handle.Close()
		return err
	}

	s.db = handle
	s.table = table
	s.state = opened

	log.Debug().
		Str("path", handle.Path).
		Str("driver", handle.Driver).
		Str("table", s.opts.Table).
		Bool("auto_commit", s.opts.AutoCommit).
		Msg("KV store opened")

	return nil
}

// Close stops the sweeper, rolls back an open transaction and releases the
// connection. The store is unusable afterwards.
func (s *Store) Close() error {
	s.StopSweeper()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != opened {
		s.state = closed
		return nil
	}

	if s.inTransaction {
		log.Warn().Str("tx", s.txID).Msg("Closing KV store with open transaction, rolling back")
		if _, err := s.db.Conn.ExecContext(context.Background(), `ROLLBACK`); err != nil {
			log.Warn().Err(err).Str("tx", s.txID).Msg("Failed to roll back transaction")
		}
		s.inTransaction = false
	}

	s.state = closed
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	log.Debug().Str("path", s.db.Path).Msg("KV store closed")
	return nil
}

func (s *Store) ready() error {
	if s.state != opened {
		return ErrNotInitialized
	}
	return nil
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// beforeWrite opens an implicit transaction when auto-commit is off.
func (s *Store) beforeWrite(ctx context.Context) error {
	if s.opts.AutoCommit || s.inTransaction {
		return nil
	}
	return s.begin(ctx)
}

// Set stores value under key without expiry, replacing any existing record.
func (s *Store) Set(ctx context.Context, key string, value any, opts ...SetOption) error {
	var p setParams
	for _, opt := range opts {
		opt(&p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.put(ctx, key, value, p)
}

// SetWithExpiry stores value under key, expiring ttl from now.
func (s *Store) SetWithExpiry(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := setParams{
		expiry: sql.NullInt64{Int64: s.nowMillis() + ttl.Milliseconds(), Valid: true},
	}
	return s.put(ctx, key, value, p)
}

func (s *Store) put(ctx context.Context, key string, value any, p setParams) error {
	if err := s.ready(); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := s.beforeWrite(ctx); err != nil {
		return err
	}

	oneTime := 0
	if p.oneTime {
		oneTime = 1
	}

	_, err = s.db.Conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+s.table+` (key, value, expiry, one_time) VALUES (?, ?, ?, ?)`,
		key, string(data), p.expiry, oneTime)
	if err != nil {
		return fmt.Errorf("failed to store value: %w", err)
	}

	log.Debug().
		Str("key", key).
		Bool("one_time", p.oneTime).
		Bool("expires", p.expiry.Valid).
		Msg("Stored KV value")
	return nil
}

// Update replaces the value under key with the result of fn, holding the
// store lock across the read and the write. fn sees the record the way Get
// would report it, but a one-time record is not consumed. A live record keeps
// its expiry and one-time flag; a missing or expired one is written fresh
// without either. An error from fn aborts the update.
func (s *Store) Update(ctx context.Context, key string, fn func(current Result) (any, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}

	var rec record
	err := s.db.Conn.GetContext(ctx, &rec,
		`SELECT value, expiry, one_time FROM `+s.table+` WHERE key = ?`, key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to get value: %w", err)
	}

	current := Result{Status: StatusNotFound}
	var p setParams
	if err == nil {
		expiry, hasExpiry, expiryErr := parseExpiry(rec.Expiry)
		if expiryErr == nil && hasExpiry && expiry < s.nowMillis() {
			current = Result{Status: StatusExpired}
		} else {
			decoded, err := decodeResult(rec.Value)
			if err != nil {
				return err
			}
			current = decoded
			p.oneTime = rec.OneTime.Valid && rec.OneTime.Int64 != 0
			if expiryErr == nil && hasExpiry {
				p.expiry = sql.NullInt64{Int64: expiry, Valid: true}
			}
		}
	}

	value, err := fn(current)
	if err != nil {
		return err
	}
	return s.put(ctx, key, value, p)
}

// Get looks up key. Expired records are deleted and reported as
// StatusExpired; one-time records are deleted as they are returned.
func (s *Store) Get(ctx context.Context, key string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return Result{}, err
	}

	var rec record
	err := s.db.Conn.GetContext(ctx, &rec,
		`SELECT value, expiry, one_time FROM `+s.table+` WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{Status: StatusNotFound}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to get value: %w", err)
	}

	expiry, hasExpiry, err := parseExpiry(rec.Expiry)
	if err != nil {
		// Unparseable expiry never expires on read; TTL reports it.
		log.Warn().Err(err).Str("key", key).Msg("Ignoring invalid expiry")
	} else if hasExpiry && expiry < s.nowMillis() {
		if err := s.beforeWrite(ctx); err != nil {
			return Result{}, err
		}
		if _, err := s.db.Conn.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE key = ?`, key); err != nil {
			return Result{}, fmt.Errorf("failed to delete expired key: %w", err)
		}
		log.Debug().Str("key", key).Msg("Deleted expired KV value")
		return Result{Status: StatusExpired}, nil
	}

	if rec.OneTime.Valid && rec.OneTime.Int64 != 0 {
		value, ok, err := s.consume(ctx, key)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{Status: StatusNotFound}, nil
		}
		rec.Value = value
	}

	return decodeResult(rec.Value)
}

// consume deletes a one-time record and returns the value it held, in one
// statement. ok is false when another reader got there first.
func (s *Store) consume(ctx context.Context, key string) (sql.NullString, bool, error) {
	if err := s.beforeWrite(ctx); err != nil {
		return sql.NullString{}, false, err
	}

	var value sql.NullString
	err := s.db.Conn.GetContext(ctx, &value,
		`DELETE FROM `+s.table+` WHERE key = ? AND one_time = 1 RETURNING value`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.NullString{}, false, nil
	}
	if err != nil {
		return sql.NullString{}, false, fmt.Errorf("failed to consume one-time key: %w", err)
	}

	log.Debug().Str("key", key).Msg("Consumed one-time KV value")
	return value, true, nil
}

func decodeResult(value sql.NullString) (Result, error) {
	raw := json.RawMessage("null")
	if value.Valid {
		raw = json.RawMessage(value.String)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("failed to unmarshal value: %w", err)
	}

	return Result{Status: StatusFound, Value: decoded, raw: raw}, nil
}

// parseExpiry interprets the stored expiry column. hasExpiry is false for NULL.
func parseExpiry(v sql.NullString) (ms int64, hasExpiry bool, err error) {
	if !v.Valid {
		return 0, false, nil
	}
	if ms, err := strconv.ParseInt(v.String, 10, 64); err == nil {
		return ms, true, nil
	}
	f, err := strconv.ParseFloat(v.String, 64)
	if err != nil {
		return 0, true, fmt.Errorf("invalid expiry %q", v.String)
	}
	return int64(f), true, nil
}

// Delete removes key and reports whether a record was removed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return false, err
	}
	if err := s.beforeWrite(ctx); err != nil {
		return false, err
	}

	result, err := s.db.Conn.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete key: %w", err)
	}
	return affected > 0, nil
}

// Exists reports whether a record for key is present. Expiry is not
// checked, so a logically expired key still exists until it is read.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return false, err
	}

	var one int
	err := s.db.Conn.GetContext(ctx, &one, `SELECT 1 FROM `+s.table+` WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return true, nil
}

// Keys lists keys in order. A non-empty pattern is a LIKE pattern where %
// and _ are wildcards and a backslash makes the next character literal.
// Expired records are included.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.keys(ctx, pattern)
}

func (s *Store) keys(ctx context.Context, pattern string) ([]string, error) {
	query := `SELECT key FROM ` + s.table
	var args []any
	if pattern != "" {
		query += ` WHERE key LIKE ? ESCAPE '\'`
		args = append(args, pattern)
	}
	query += ` ORDER BY key`

	keys := []string{}
	if err := s.db.Conn.SelectContext(ctx, &keys, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// TTL returns the time left before key expires.
func (s *Store) TTL(ctx context.Context, key string) (TTLResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return TTLResult{}, err
	}

	var expiryCol sql.NullString
	err := s.db.Conn.GetContext(ctx, &expiryCol, `SELECT expiry FROM `+s.table+` WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return TTLResult{Status: StatusNotFound}, nil
	}
	if err != nil {
		return TTLResult{}, fmt.Errorf("failed to get expiry: %w", err)
	}

	expiry, hasExpiry, err := parseExpiry(expiryCol)
	if err != nil {
		return TTLResult{Status: StatusInvalidExpiry}, nil
	}
	if !hasExpiry {
		return TTLResult{Status: StatusNotFound}, nil
	}

	remaining := max(expiry-s.nowMillis(), 0)
	return TTLResult{Status: StatusFound, Remaining: time.Duration(remaining) * time.Millisecond}, nil
}

// Clear deletes every record.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	if err := s.beforeWrite(ctx); err != nil {
		return err
	}

	result, err := s.db.Conn.ExecContext(ctx, `DELETE FROM `+s.table)
	if err != nil {
		return fmt.Errorf("failed to clear table: %w", err)
	}

	affected, _ := result.RowsAffected()
	log.Debug().Int64("count", affected).Msg("Cleared KV store")
	return nil
}

// BeginTransaction issues BEGIN. Writes are grouped until CommitTransaction.
// Nested transactions are not supported; the engine error is returned.
func (s *Store) BeginTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	return s.begin(ctx)
}

func (s *Store) begin(ctx context.Context) error {
	if _, err := s.db.Conn.ExecContext(ctx, `BEGIN`); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.inTransaction = true
	s.txID = uuid.NewString()
	log.Debug().Str("tx", s.txID).Msg("Transaction started")
	return nil
}

// CommitTransaction issues COMMIT if a transaction is open and is a no-op otherwise.
func (s *Store) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	if !s.inTransaction {
		return nil
	}

	if _, err := s.db.Conn.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	log.Debug().Str("tx", s.txID).Msg("Transaction committed")
	s.inTransaction = false
	s.txID = ""
	return nil
}

// InTransaction reports whether a transaction is open.
func (s *Store) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTransaction
}

// JournalMode queries the journal mode in effect.
func (s *Store) JournalMode(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return "", err
	}
	return s.db.JournalMode(ctx)
}

// Info returns a diagnostic snapshot. KeyCount includes expired records.
func (s *Store) Info(ctx context.Context) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return Info{}, err
	}

	mode, err := s.db.JournalMode(ctx)
	if err != nil {
		return Info{}, err
	}
	size, err := s.db.FileSize()
	if err != nil {
		return Info{}, err
	}
	keys, err := s.keys(ctx, "")
	if err != nil {
		return Info{}, err
	}

	return Info{
		JournalMode: mode,
		Path:        s.db.Path,
		Filename:    s.db.Filename,
		Table:       s.opts.Table,
		FileSize:    size,
		KeyCount:    len(keys),
		WALExists:   s.db.WALExists(),
	}, nil
}
