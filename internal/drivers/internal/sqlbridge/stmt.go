package sqlbridge

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sqlpool/sqlpool/pkg/driver"
)

// Stmt wraps a *sql.Stmt plus the positional argument buffer bind fills
// before Execute/ExecuteQuery flushes them, since database/sql has no
// bind-then-execute step of its own.
type Stmt struct {
	mu sync.Mutex

	session *Session
	stmt    *sql.Stmt
	args    []interface{}
}

func newStmt(s *Session, stmt *sql.Stmt, paramCount int) *Stmt {
	return &Stmt{session: s, stmt: stmt, args: make([]interface{}, paramCount)}
}

// StmtOf asserts h back to *Stmt.
func StmtOf(h driver.PreparedHandle) *Stmt { return h.(*Stmt) }

// Bind converts v and stores it at 1-based slot idx.
func (s *Stmt) Bind(idx int, v driver.Value) error {
	native, err := toNative(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 1 || idx > len(s.args) {
		return fmt.Errorf("sqlbridge: bind index %d out of range [1..%d]", idx, len(s.args))
	}
	s.args[idx-1] = native
	return nil
}

func (s *Stmt) Execute(ctx context.Context) (int64, error) {
	s.mu.Lock()
	args := append([]interface{}(nil), s.args...)
	s.mu.Unlock()

	res, err := s.stmt.ExecContext(ctx, args...)
	if err != nil {
		s.session.setError(err)
		return 0, err
	}
	return s.session.recordResult(res), nil
}

func (s *Stmt) ExecuteQuery(ctx context.Context) (driver.Cursor, error) {
	s.mu.Lock()
	args := append([]interface{}(nil), s.args...)
	s.mu.Unlock()

	rows, err := s.stmt.QueryContext(ctx, args...)
	if err != nil {
		s.session.setError(err)
		return nil, err
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		s.session.setError(err)
		return nil, err
	}
	return newCursor(s.session, rows, columns), nil
}

func (s *Stmt) Close() error { return s.stmt.Close() }

// toNative converts a driver.Value into the Go type database/sql driver
// implementations expect as a query argument.
func toNative(v driver.Value) (interface{}, error) {
	switch v.Kind {
	case driver.KindNull:
		return nil, nil
	case driver.KindInt, driver.KindLong:
		return v.Int, nil
	case driver.KindDouble:
		return v.Double, nil
	case driver.KindString:
		return v.Str, nil
	case driver.KindBlob:
		return v.Blob, nil
	case driver.KindTimestamp:
		return time.Unix(v.Timestamp, 0).UTC(), nil
	default:
		return nil, fmt.Errorf("sqlbridge: unsupported value kind %d", v.Kind)
	}
}
