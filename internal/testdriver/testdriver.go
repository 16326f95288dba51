// Package testdriver is an in-memory driver.Driver implementation used to
// unit-test pkg/pool without a live backend. It models a single table of
// rows keyed by an auto-incrementing id and supports a tiny subset of SQL
// ("INSERT INTO t VALUES (?, ?)", "SELECT * FROM t", "DELETE FROM t")
// sufficient to exercise Pool/Connection/PreparedStatement/ResultSet
// semantics end to end.
package testdriver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sqlpool/sqlpool/pkg/driver"
)

// Driver is a shared, in-process backing store every opened Session reads
// and writes, so multiple Sessions behave like multiple connections to
// the same database.
type Driver struct {
	mu       sync.Mutex
	rows     []row
	nextID   int64
	openFail atomic.Bool // when true, Open fails — used to test pool startup/recovery paths
	pingFail atomic.Bool // when true, Ping fails — used to test eviction
}

type row struct {
	id       int64
	name     string
	nameNull bool
}

// New returns a fresh in-memory Driver with an empty table.
func New() *Driver { return &Driver{} }

// FailOpens makes every future Open call fail until reset.
func (d *Driver) FailOpens(fail bool) { d.openFail.Store(fail) }

// FailPings makes every future Ping call fail until reset.
func (d *Driver) FailPings(fail bool) { d.pingFail.Store(fail) }

func (d *Driver) Open(ctx context.Context, dsn string) (driver.Session, error) {
	if d.openFail.Load() {
		return nil, fmt.Errorf("testdriver: open failed (injected)")
	}
	return &session{driver: d}, nil
}

type session struct {
	mu          sync.Mutex
	driver      *Driver
	closed      bool
	inTx        bool
	txSnapshot  []row // rows as of BeginTx, restored on Rollback
	lastError   string
	lastInsert  int64
	rowsChanged int64
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (d *Driver) Close(sess driver.Session) error { return sess.(*session).Close() }

func (d *Driver) Ping(ctx context.Context, sess driver.Session) error {
	if d.pingFail.Load() {
		return fmt.Errorf("testdriver: ping failed (injected)")
	}
	return nil
}

func (d *Driver) BeginTx(ctx context.Context, sess driver.Session, iso driver.Isolation) error {
	s := sess.(*session)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = true
	d.mu.Lock()
	s.txSnapshot = append([]row(nil), d.rows...)
	d.mu.Unlock()
	return nil
}

func (d *Driver) Commit(ctx context.Context, sess driver.Session) error {
	s := sess.(*session)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = false
	s.txSnapshot = nil
	return nil
}

func (d *Driver) Rollback(ctx context.Context, sess driver.Session) error {
	s := sess.(*session)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTx {
		d.mu.Lock()
		d.rows = s.txSnapshot
		d.mu.Unlock()
	}
	s.inTx = false
	s.txSnapshot = nil
	return nil
}

func (d *Driver) Execute(ctx context.Context, sess driver.Session, sqlText string) (int64, error) {
	s := sess.(*session)
	n, err := d.exec(s, sqlText, nil)
	if err != nil {
		s.mu.Lock()
		s.lastError = err.Error()
		s.mu.Unlock()
	}
	return n, err
}

type stmt struct {
	session *session
	sql     string
	params  int
	args    map[int]driver.Value
}

func (d *Driver) Prepare(ctx context.Context, sess driver.Session, sqlText string) (driver.PreparedHandle, int, error) {
	n := strings.Count(sqlText, "?")
	return &stmt{session: sess.(*session), sql: sqlText, params: n, args: make(map[int]driver.Value)}, n, nil
}

func (d *Driver) Bind(ctx context.Context, h driver.PreparedHandle, idx int, v driver.Value) error {
	st := h.(*stmt)
	if idx < 1 || idx > st.params {
		return fmt.Errorf("testdriver: bind index %d out of range", idx)
	}
	st.args[idx] = v
	return nil
}

func (d *Driver) StmtExecute(ctx context.Context, h driver.PreparedHandle) (int64, error) {
	st := h.(*stmt)
	return d.exec(st.session, st.sql, st.args)
}

func (d *Driver) StmtExecuteQuery(ctx context.Context, h driver.PreparedHandle) (driver.Cursor, error) {
	st := h.(*stmt)
	return d.query(st.sql)
}

func (d *Driver) StmtClose(h driver.PreparedHandle) error { return nil }

// exec applies an INSERT or DELETE against the shared table.
func (d *Driver) exec(s *session, sqlText string, args map[int]driver.Value) (int64, error) {
	upper := strings.ToUpper(strings.TrimSpace(sqlText))
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case strings.HasPrefix(upper, "INSERT"):
		d.nextID++
		name := ""
		null := true
		if v, ok := args[2]; ok && v.Kind == driver.KindString {
			name = v.Str
			null = false
		}
		d.rows = append(d.rows, row{id: d.nextID, name: name, nameNull: null})
		s.lastInsert = d.nextID
		s.rowsChanged = 1
		return 1, nil
	case strings.HasPrefix(upper, "DELETE"):
		n := int64(len(d.rows))
		d.rows = nil
		s.rowsChanged = n
		return n, nil
	case strings.HasPrefix(upper, "UPDATE"):
		s.rowsChanged = int64(len(d.rows))
		return s.rowsChanged, nil
	default:
		return 0, nil
	}
}

func (d *Driver) query(sqlText string) (driver.Cursor, error) {
	d.mu.Lock()
	snapshot := append([]row(nil), d.rows...)
	d.mu.Unlock()
	return &cursor{rows: snapshot, pos: -1}, nil
}

type cursor struct {
	rows []row
	pos  int
}

func (d *Driver) CursorNext(ctx context.Context, c driver.Cursor) (bool, error) {
	cur := c.(*cursor)
	cur.pos++
	return cur.pos < len(cur.rows), nil
}

func (d *Driver) CursorColumnCount(c driver.Cursor) int { return 2 }

func (d *Driver) CursorColumnName(c driver.Cursor, idx int) string {
	switch idx {
	case 1:
		return "id"
	case 2:
		return "name"
	default:
		return ""
	}
}

func (d *Driver) CursorIsNull(c driver.Cursor, idx int) bool {
	cur := c.(*cursor)
	return idx == 2 && cur.rows[cur.pos].nameNull
}

func (d *Driver) CursorGetString(c driver.Cursor, idx int) (string, error) {
	cur := c.(*cursor)
	if idx == 2 {
		return cur.rows[cur.pos].name, nil
	}
	return fmt.Sprintf("%d", cur.rows[cur.pos].id), nil
}

func (d *Driver) CursorGetInt(c driver.Cursor, idx int) (int64, error) {
	cur := c.(*cursor)
	if idx == 1 {
		return cur.rows[cur.pos].id, nil
	}
	return 0, fmt.Errorf("testdriver: column %d is not numeric", idx)
}

func (d *Driver) CursorGetLong(c driver.Cursor, idx int) (int64, error) { return d.CursorGetInt(c, idx) }

func (d *Driver) CursorGetDouble(c driver.Cursor, idx int) (float64, error) {
	n, err := d.CursorGetInt(c, idx)
	return float64(n), err
}

func (d *Driver) CursorGetBlob(c driver.Cursor, idx int) ([]byte, error) {
	s, err := d.CursorGetString(c, idx)
	return []byte(s), err
}

func (d *Driver) CursorGetTimestamp(c driver.Cursor, idx int) (int64, error) { return 0, nil }

func (d *Driver) CursorGetDateTime(c driver.Cursor, idx int) (driver.DateTime, error) {
	return driver.DateTime{}, nil
}

func (d *Driver) CursorClose(c driver.Cursor) error { return nil }

func (d *Driver) LastRowID(ctx context.Context, sess driver.Session) (int64, error) {
	return sess.(*session).lastInsert, nil
}

func (d *Driver) RowsChanged(ctx context.Context, sess driver.Session) (int64, error) {
	return sess.(*session).rowsChanged, nil
}

func (d *Driver) LastError(sess driver.Session) string { return sess.(*session).lastError }

func (d *Driver) SetQueryTimeout(sess driver.Session, ms int) error { return nil }
func (d *Driver) SetFetchSize(sess driver.Session, n int) error    { return nil }
func (d *Driver) SetMaxRows(sess driver.Session, n int) error      { return nil }
