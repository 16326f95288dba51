// Package sqlbridge holds the database/sql plumbing shared by every
// dialect adapter under internal/drivers: session/transaction handling,
// prepared-statement argument buffering, and cursor scanning. Each
// adapter supplies only what's dialect-specific (isolation-level SQL,
// placeholder style, whether LastInsertId is supported).
package sqlbridge

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/sqlpool/sqlpool/pkg/driver"
)

// PlaceholderStyle selects how parameter placeholders are written in SQL
// text passed to Prepare, used only to count them for paramCount.
type PlaceholderStyle int

const (
	PlaceholderQuestion PlaceholderStyle = iota // "?"
	PlaceholderDollar                           // "$1", "$2", ...
)

// IsolationTranslator maps a driver.Isolation to the dialect's
// "SET TRANSACTION ISOLATION LEVEL ..." (or equivalent) clause. Return an
// error for a level the dialect cannot honor — Session.BeginTx surfaces
// it rather than silently using a different level.
type IsolationTranslator func(driver.Isolation) (string, error)

// Option configures a Session at construction time.
type Option func(*Session)

// WithPlaceholderStyle overrides the default "?" placeholder style.
func WithPlaceholderStyle(style PlaceholderStyle) Option {
	return func(s *Session) { s.placeholderStyle = style }
}

// WithNoLastInsertID marks a dialect (PostgreSQL) whose driver does not
// support sql.Result.LastInsertId.
func WithNoLastInsertID() Option {
	return func(s *Session) { s.noLastInsertID = true }
}

// BeginStmt overrides the statement used to start a transaction for
// isolation levels that need more than SET TRANSACTION ISOLATION LEVEL
// (SQLite's BEGIN IMMEDIATE/EXCLUSIVE).
type BeginStmt func(driver.Isolation) (string, bool)

// WithBeginStmt installs a translator that, when its second return value
// is true, is executed verbatim to begin the transaction instead of
// BeginTx+SET TRANSACTION ISOLATION LEVEL.
func WithBeginStmt(fn BeginStmt) Option {
	return func(s *Session) { s.beginStmt = fn }
}

// Session wraps one *sql.DB opened with MaxOpenConns(1), so it maps 1:1
// onto a single physical backend connection the way the pool core expects
// (the pool, not database/sql, owns pooling).
type Session struct {
	mu sync.Mutex

	db    *sql.DB
	tx    *sql.Tx
	rawTx bool // transaction started via a literal BeginStmt (e.g. BEGIN IMMEDIATE), not db.BeginTx

	isoFn            IsolationTranslator
	placeholderStyle PlaceholderStyle
	noLastInsertID   bool
	beginStmt        BeginStmt

	lastError    string
	lastInsertID int64
	rowsChanged  int64

	queryTimeoutMs int
	fetchSize      int
	maxRows        int
}

// NewSession wraps db as a driver.Session.
func NewSession(db *sql.DB, isoFn IsolationTranslator, opts ...Option) *Session {
	s := &Session{db: db, isoFn: isoFn}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sess asserts s back to *Session; driver adapters use it to unwrap the
// opaque driver.Session handle the pool core passes around.
func Sess(s driver.Session) *Session { return s.(*Session) }

func (s *Session) Close() error { return s.db.Close() }

func (s *Session) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		s.setError(err)
		return err
	}
	return nil
}

// BeginTx starts a transaction, translating iso via isoFn (or beginStmt
// for dialects needing a non-standard BEGIN form).
func (s *Session) BeginTx(ctx context.Context, iso driver.Isolation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.beginStmt != nil {
		if stmt, ok := s.beginStmt(iso); ok {
			// A literal BEGIN [IMMEDIATE|EXCLUSIVE] is issued directly on
			// db rather than via db.BeginTx, which would issue its own
			// BEGIN and nest. SetMaxOpenConns(1) guarantees every
			// subsequent call on db reuses the same physical connection,
			// so the transaction stays visible across Exec/Query calls
			// until rawTx is closed by Commit/Rollback below.
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				s.setErrorLocked(err)
				return err
			}
			s.rawTx = true
			return nil
		}
	}

	clause, err := s.isoFn(iso)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.setErrorLocked(err)
		return err
	}
	if _, err := tx.ExecContext(ctx, "SET TRANSACTION ISOLATION LEVEL "+clause); err != nil {
		tx.Rollback()
		s.setErrorLocked(err)
		return err
	}
	s.tx = tx
	return nil
}

func (s *Session) Commit() error {
	s.mu.Lock()
	tx, raw := s.tx, s.rawTx
	s.tx, s.rawTx = nil, false
	s.mu.Unlock()

	if raw {
		_, err := s.db.ExecContext(context.Background(), "COMMIT")
		if err != nil {
			s.setError(err)
		}
		return err
	}
	if tx == nil {
		return fmt.Errorf("sqlbridge: commit without an open transaction")
	}
	if err := tx.Commit(); err != nil {
		s.setError(err)
		return err
	}
	return nil
}

func (s *Session) Rollback() error {
	s.mu.Lock()
	tx, raw := s.tx, s.rawTx
	s.tx, s.rawTx = nil, false
	s.mu.Unlock()

	if raw {
		_, err := s.db.ExecContext(context.Background(), "ROLLBACK")
		if err != nil {
			s.setError(err)
		}
		return err
	}
	if tx == nil {
		return fmt.Errorf("sqlbridge: rollback without an open transaction")
	}
	if err := tx.Rollback(); err != nil {
		s.setError(err)
		return err
	}
	return nil
}

func (s *Session) execer() interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx
	}
	return s.db // also covers rawTx: the literal BEGIN stays bound to db's sole connection
}

func (s *Session) Execute(ctx context.Context, query string) (int64, error) {
	res, err := s.execer().ExecContext(ctx, query)
	if err != nil {
		s.setError(err)
		return 0, err
	}
	return s.recordResult(res), nil
}

func (s *Session) Prepare(ctx context.Context, query string) (*Stmt, int, error) {
	stmt, err := s.execer().PrepareContext(ctx, query)
	if err != nil {
		s.setError(err)
		return nil, 0, err
	}
	n := countPlaceholders(query, s.placeholderStyle)
	return newStmt(s, stmt, n), n, nil
}

func (s *Session) LastRowID() (int64, error) {
	if s.noLastInsertID {
		return 0, fmt.Errorf("sqlbridge: dialect does not support last insert id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInsertID, nil
}

func (s *Session) RowsChanged() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowsChanged, nil
}

func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *Session) SetQueryTimeout(ms int) { s.mu.Lock(); s.queryTimeoutMs = ms; s.mu.Unlock() }
func (s *Session) SetFetchSize(n int)     { s.mu.Lock(); s.fetchSize = n; s.mu.Unlock() }
func (s *Session) SetMaxRows(n int)       { s.mu.Lock(); s.maxRows = n; s.mu.Unlock() }

func (s *Session) recordResult(res sql.Result) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, err := res.RowsAffected(); err == nil {
		s.rowsChanged = n
	}
	if !s.noLastInsertID {
		if id, err := res.LastInsertId(); err == nil {
			s.lastInsertID = id
		}
	}
	return s.rowsChanged
}

func (s *Session) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(err)
}

func (s *Session) setErrorLocked(err error) {
	if err != nil {
		s.lastError = err.Error()
	}
}

// countPlaceholders counts positional parameters in query, skipping
// single-quoted string literals. It is a best-effort scanner, not a full
// SQL parser — good enough to recover paramCount for arity checking.
func countPlaceholders(query string, style PlaceholderStyle) int {
	switch style {
	case PlaceholderDollar:
		max := 0
		inString := false
		for i := 0; i < len(query); i++ {
			c := query[i]
			if c == '\'' {
				inString = !inString
				continue
			}
			if inString || c != '$' {
				continue
			}
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			if j == i+1 {
				continue
			}
			n := 0
			fmt.Sscanf(query[i+1:j], "%d", &n)
			if n > max {
				max = n
			}
			i = j - 1
		}
		return max
	default:
		count := 0
		inString := false
		for i := 0; i < len(query); i++ {
			c := query[i]
			if c == '\'' {
				inString = !inString
				continue
			}
			if c == '?' && !inString {
				count++
			}
		}
		return count
	}
}
