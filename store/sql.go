package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/arloliu/rewind"
	"github.com/arloliu/rewind/types"
)

const sqlBackend = "sql"

// tableNameRegex restricts table names to plain identifiers, since they are
// interpolated into statements.
var tableNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// SQLDB is the subset of *sql.DB used by SQLStore.
type SQLDB interface {
	// ExecContext executes a query without returning any rows.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)

	// QueryContext executes a query that returns rows.
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)

	// QueryRowContext executes a query that returns at most one row.
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Compile-time assertion that *sql.DB implements SQLDB.
var _ SQLDB = (*sql.DB)(nil)

// SQLConfig configures the SQL event store.
type SQLConfig struct {
	// Table is the table holding all channel logs.
	// Default: "rewind_events"
	Table string

	// CreateSchema creates the table and index if they do not exist.
	// Default: true
	CreateSchema bool
}

// DefaultSQLConfig returns the default configuration.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		Table:        "rewind_events",
		CreateSchema: true,
	}
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLConfig)

// WithTable sets the table name.
func WithTable(name string) SQLOption {
	return func(c *SQLConfig) {
		c.Table = name
	}
}

// WithCreateSchema controls schema creation on construction.
func WithCreateSchema(create bool) SQLOption {
	return func(c *SQLConfig) {
		c.CreateSchema = create
	}
}

// SQLStore is an embedded durable event store over database/sql.
//
// All channels share one table; rows are ordered within a channel by an
// autoincrement sequence. Every mutation is a single statement, so each is
// atomic on its own. Statements use SQLite DDL and "?" placeholders; the
// store is exercised with github.com/mattn/go-sqlite3.
//
// The store does not own the database handle; Close does not close it.
type SQLStore struct {
	db     SQLDB
	config SQLConfig
	closed atomic.Bool

	qAppend        string
	qLen           string
	qElementAt     string
	qElementsAfter string
	qRemoveAt      string
	qRemoveChannel string
	qChannels      string
}

// Compile-time assertion that SQLStore implements rewind.EventStore.
var _ rewind.EventStore = (*SQLStore)(nil)

// NewSQLStore creates a SQL event store, creating its schema unless disabled.
//
// Parameters:
//   - ctx: Context for schema creation
//   - db: Database handle (typically *sql.DB)
//   - opts: Optional configuration options
//
// Returns:
//   - *SQLStore: A new SQL store
//   - error: Error if db is nil, the table name is invalid, or schema creation fails
//
// Example:
//
//	db, _ := sql.Open("sqlite3", "file:rewind.db?_busy_timeout=5000")
//	st, _ := store.NewSQLStore(ctx, db)
func NewSQLStore(ctx context.Context, db SQLDB, opts ...SQLOption) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("rewind: sql database is nil")
	}

	config := DefaultSQLConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if !tableNameRegex.MatchString(config.Table) {
		return nil, fmt.Errorf("rewind: invalid sql table name %q", config.Table)
	}

	t := config.Table
	s := &SQLStore{
		db:             db,
		config:         config,
		qAppend:        "INSERT INTO " + t + " (channel, event_id, name, time, data) VALUES (?, ?, ?, ?, ?)",
		qLen:           "SELECT COUNT(*) FROM " + t + " WHERE channel = ?",
		qElementAt:     "SELECT data FROM " + t + " WHERE channel = ? ORDER BY seq LIMIT 1 OFFSET ?",
		qElementsAfter: "SELECT data FROM " + t + " WHERE channel = ? AND time > ? ORDER BY seq",
		qRemoveAt: "DELETE FROM " + t + " WHERE seq = (SELECT seq FROM " + t +
			" WHERE channel = ? ORDER BY seq LIMIT 1 OFFSET ?)",
		qRemoveChannel: "DELETE FROM " + t + " WHERE channel = ?",
		qChannels:      "SELECT DISTINCT channel FROM " + t + " ORDER BY channel",
	}

	if config.CreateSchema {
		if err := s.createSchema(ctx); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *SQLStore) createSchema(ctx context.Context) error {
	t := s.config.Table
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS " + t + ` (
			seq      INTEGER PRIMARY KEY AUTOINCREMENT,
			channel  TEXT    NOT NULL,
			event_id TEXT    NOT NULL,
			name     TEXT    NOT NULL,
			time     INTEGER NOT NULL,
			data     BLOB    NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS " + t + "_channel_seq ON " + t + " (channel, seq)",
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.wrap("create_schema", "", err)
		}
	}

	return nil
}

// Append inserts the event as the newest row of the channel.
func (s *SQLStore) Append(ctx context.Context, channel string, ev types.Event) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}

	ev.Channel = channel
	data, err := EncodeEvent(ev)
	if err != nil {
		return s.wrap("append", channel, err)
	}

	if _, err := s.db.ExecContext(ctx, s.qAppend, channel, ev.ID, ev.Name, ev.Time, data); err != nil {
		return s.wrap("append", channel, err)
	}

	return nil
}

// Len counts the rows of the channel.
func (s *SQLStore) Len(ctx context.Context, channel string) (int, error) {
	if s.closed.Load() {
		return 0, types.ErrStoreClosed
	}

	var n int
	if err := s.db.QueryRowContext(ctx, s.qLen, channel).Scan(&n); err != nil {
		return 0, s.wrap("len", channel, err)
	}

	return n, nil
}

// ElementAt returns the event at index, oldest-first.
func (s *SQLStore) ElementAt(ctx context.Context, channel string, index int) (types.Event, error) {
	if s.closed.Load() {
		return types.Event{}, types.ErrStoreClosed
	}
	if index < 0 {
		return types.Event{}, types.ErrEventNotFound
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, s.qElementAt, channel, index).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Event{}, types.ErrEventNotFound
	}
	if err != nil {
		return types.Event{}, s.wrap("element_at", channel, err)
	}

	ev, err := DecodeEvent(data)
	if err != nil {
		return types.Event{}, s.wrap("element_at", channel, err)
	}

	return ev, nil
}

// ElementsAfter returns the events with Time strictly greater than t.
func (s *SQLStore) ElementsAfter(ctx context.Context, channel string, t int64) ([]types.Event, error) {
	if s.closed.Load() {
		return nil, types.ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, s.qElementsAfter, channel, t)
	if err != nil {
		return nil, s.wrap("elements_after", channel, err)
	}
	defer rows.Close()

	events := []types.Event{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, s.wrap("elements_after", channel, err)
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			return nil, s.wrap("elements_after", channel, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("elements_after", channel, err)
	}

	return events, nil
}

// RemoveElementAt deletes the row at index. Out of range is a no-op.
func (s *SQLStore) RemoveElementAt(ctx context.Context, channel string, index int) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}
	if index < 0 {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, s.qRemoveAt, channel, index); err != nil {
		return s.wrap("remove_element_at", channel, err)
	}

	return nil
}

// RemoveChannel deletes every row of the channel.
func (s *SQLStore) RemoveChannel(ctx context.Context, channel string) error {
	if s.closed.Load() {
		return types.ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, s.qRemoveChannel, channel); err != nil {
		return s.wrap("remove_channel", channel, err)
	}

	return nil
}

// Channels lists the channels holding at least one row.
func (s *SQLStore) Channels(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, types.ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, s.qChannels)
	if err != nil {
		return nil, s.wrap("channels", "", err)
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, s.wrap("channels", "", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("channels", "", err)
	}

	return channels, nil
}

// Close marks the store closed. The database handle is left open.
func (s *SQLStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *SQLStore) wrap(op, channel string, err error) error {
	return &types.StoreError{Backend: sqlBackend, Op: op, Channel: channel, Cause: err}
}
