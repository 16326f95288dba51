// Package driver defines the abstraction surface concrete SQL backends plug
// into. The pool core (package pool) depends only on the interfaces and
// value types declared here; it never imports a dialect-specific driver
// package directly. See internal/drivers/{mssql,mysql,postgres,sqlite} for
// reference implementations.
package driver

import "context"

// Session is an opaque handle to a single live backend connection, owned
// by exactly one Driver implementation. The pool core never inspects it.
type Session interface{}

// PreparedHandle is an opaque handle to a prepared statement on a Session.
type PreparedHandle interface{}

// Cursor is an opaque handle to a forward-only result set on a Session.
type Cursor interface{}

// Isolation enumerates the transaction isolation levels a Connection may
// request via BeginTransaction. Not every dialect supports every level;
// a Driver that cannot honor a requested level must reject it at
// BeginTx time with a SqlError-kind error rather than silently using a
// different level.
type Isolation int

const (
	Default Isolation = iota
	ReadUncommitted
	ReadCommitted
	RepeatableRead
	Serializable
	Immediate // SQLite: BEGIN IMMEDIATE
	Exclusive // SQLite: BEGIN EXCLUSIVE
)

func (i Isolation) String() string {
	switch i {
	case Default:
		return "default"
	case ReadUncommitted:
		return "read_uncommitted"
	case ReadCommitted:
		return "read_committed"
	case RepeatableRead:
		return "repeatable_read"
	case Serializable:
		return "serializable"
	case Immediate:
		return "immediate"
	case Exclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// Kind identifies the Go type carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindLong
	KindDouble
	KindString
	KindBlob
	KindTimestamp
)

// Value is a typed parameter bound to a prepared statement slot, or a
// column value read back from a cursor. String and Blob are stored by
// reference (no defensive copy) per §4.4 of the specification; callers
// must keep the backing array alive until the statement executes.
type Value struct {
	Kind      Kind
	Int       int64   // KindInt, KindLong
	Double    float64 // KindDouble
	Str       string  // KindString
	Blob      []byte  // KindBlob
	Timestamp int64   // KindTimestamp, seconds since the Unix epoch, UTC
}

// NullValue is the zero Value with an explicit Null kind.
func NullValue() Value { return Value{Kind: KindNull} }

// IntValue wraps an integer parameter.
func IntValue(v int64) Value { return Value{Kind: KindInt, Int: v} }

// LongValue wraps a 64-bit integer parameter. Distinguished from IntValue
// only for dialects that round-trip INT vs BIGINT differently; the core
// treats both identically.
func LongValue(v int64) Value { return Value{Kind: KindLong, Int: v} }

// DoubleValue wraps a floating point parameter.
func DoubleValue(v float64) Value { return Value{Kind: KindDouble, Double: v} }

// StringValue wraps a string parameter by reference.
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }

// BlobValue wraps a byte-slice parameter by reference.
func BlobValue(v []byte) Value { return Value{Kind: KindBlob, Blob: v} }

// TimestampValue wraps a Unix-epoch-seconds timestamp parameter.
func TimestampValue(v int64) Value { return Value{Kind: KindTimestamp, Timestamp: v} }

// DateTime is the broken-down calendar representation returned by
// Cursor.GetDateTime. Month is 0-based (January == 0) and Year is the
// literal calendar year, matching struct tm's documented convention in
// the prior art this core's temporal semantics are modeled on — not
// "years since 1900".
type DateTime struct {
	Year       int
	Month      int // 0-based
	Day        int
	Hour       int
	Minute     int
	Second     int
	Nanosecond int
	OffsetSec  int  // timezone offset in seconds east of UTC, where known
	HasOffset  bool
}

// Driver is the capability set a dialect adapter implements. The pool core
// calls these methods directly; none of them may be called concurrently
// on the same Session/PreparedHandle/Cursor (§5 — only the pool's own
// acquire/release bookkeeping is goroutine-safe, per-connection state is
// not).
type Driver interface {
	// Open establishes a new Session against dsn. Must not block
	// indefinitely; honor ctx cancellation.
	Open(ctx context.Context, dsn string) (Session, error)

	// Close releases a Session and any backend resources it holds.
	Close(s Session) error

	// Ping is a cheap liveness probe. Must never panic; a network or
	// protocol failure is reported via the returned error.
	Ping(ctx context.Context, s Session) error

	// BeginTx starts a transaction at the requested isolation level.
	// A Driver that cannot honor iso must return an error rather than
	// silently using a different level. Nested calls without an
	// intervening Commit/Rollback are a core-level ApiMisuse and never
	// reach the Driver.
	BeginTx(ctx context.Context, s Session, iso Isolation) error
	Commit(ctx context.Context, s Session) error
	Rollback(ctx context.Context, s Session) error

	// Execute runs sql with no parameters and no result set, returning
	// the number of rows changed.
	Execute(ctx context.Context, s Session, sql string) (rowsChanged int64, err error)

	// Prepare parses sql and returns a handle with paramCount slots.
	Prepare(ctx context.Context, s Session, sql string) (h PreparedHandle, paramCount int, err error)

	// Bind sets 1-based parameter slot idx on h to v.
	Bind(ctx context.Context, h PreparedHandle, idx int, v Value) error

	// StmtExecute runs a prepared statement expected to produce no rows.
	StmtExecute(ctx context.Context, h PreparedHandle) (rowsChanged int64, err error)

	// StmtExecuteQuery runs a prepared statement expected to produce rows.
	StmtExecuteQuery(ctx context.Context, h PreparedHandle) (Cursor, error)

	// StmtClose releases a prepared statement handle.
	StmtClose(h PreparedHandle) error

	// CursorNext advances the cursor. Returns false at end of rows.
	CursorNext(ctx context.Context, c Cursor) (bool, error)
	CursorColumnCount(c Cursor) int
	CursorColumnName(c Cursor, idx int) string
	CursorIsNull(c Cursor, idx int) bool
	CursorGetString(c Cursor, idx int) (string, error)
	CursorGetInt(c Cursor, idx int) (int64, error)
	CursorGetLong(c Cursor, idx int) (int64, error)
	CursorGetDouble(c Cursor, idx int) (float64, error)
	CursorGetBlob(c Cursor, idx int) ([]byte, error)
	CursorGetTimestamp(c Cursor, idx int) (int64, error)
	CursorGetDateTime(c Cursor, idx int) (DateTime, error)
	CursorClose(c Cursor) error

	// LastRowID and RowsChanged report on the most recent statement
	// executed on s. Dialects without a native last-insert-id (e.g.
	// PostgreSQL) may return an error; the core surfaces it as-is.
	LastRowID(ctx context.Context, s Session) (int64, error)
	RowsChanged(ctx context.Context, s Session) (int64, error)

	// LastError returns the last dialect-level error message recorded
	// against s, independent of any Go error value already returned.
	LastError(s Session) string

	SetQueryTimeout(s Session, ms int) error
	SetFetchSize(s Session, n int) error
	SetMaxRows(s Session, n int) error
}
