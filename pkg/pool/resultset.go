package pool

import (
	"context"
	"sync"

	"github.com/sqlpool/sqlpool/internal/poolerr"
	"github.com/sqlpool/sqlpool/pkg/driver"
)

// ResultSet is a forward-only cursor over rows produced by
// Connection.ExecuteQuery or PreparedStatement.ExecuteQuery. At most one
// ResultSet is live per Connection at a time; it is invalidated by any
// subsequent execute/prepareStatement/executeQuery/rollback/clear on its
// connection, or by the connection's return to the pool.
type ResultSet struct {
	mu sync.Mutex

	conn     *Connection
	stmt     *PreparedStatement // the statement this cursor was produced from
	ownsStmt bool               // true when stmt is a throwaway created by Connection.Execute*
	cursor   driver.Cursor
	valid    bool

	columnCount int
	columnNames []string
}

func newResultSet(c *Connection, stmt *PreparedStatement, ownsStmt bool, cursor driver.Cursor) *ResultSet {
	count := c.pool.drv.CursorColumnCount(cursor)
	names := make([]string, count)
	for i := 0; i < count; i++ {
		names[i] = c.pool.drv.CursorColumnName(cursor, i+1)
	}
	return &ResultSet{
		conn:        c,
		stmt:        stmt,
		ownsStmt:    ownsStmt,
		cursor:      cursor,
		valid:       true,
		columnCount: count,
		columnNames: names,
	}
}

// Next advances the cursor, returning false at end-of-rows. Initial
// position is before the first row.
func (r *ResultSet) Next(ctx context.Context) (bool, error) {
	r.mu.Lock()
	if !r.valid {
		r.mu.Unlock()
		return false, poolerr.Misuse("next on an invalidated result set")
	}
	cursor := r.cursor
	r.mu.Unlock()

	ok, err := r.conn.pool.drv.CursorNext(ctx, cursor)
	if err != nil {
		r.conn.recordError(err)
		return false, poolerr.Sql("next", err)
	}
	return ok, nil
}

// ColumnCount returns M, the number of columns.
func (r *ResultSet) ColumnCount() int {
	return r.columnCount
}

// ColumnName returns the 1-based column's name.
func (r *ResultSet) ColumnName(idx int) string {
	if idx < 1 || idx > r.columnCount {
		return ""
	}
	return r.columnNames[idx-1]
}

// ColumnIndex resolves a case-sensitive column name to a 1-based index,
// returning the first matching column when names collide.
func (r *ResultSet) ColumnIndex(name string) (int, bool) {
	for i, n := range r.columnNames {
		if n == name {
			return i + 1, true
		}
	}
	return 0, false
}

// IsNull reports whether the 1-based column idx is SQL NULL, distinct
// from a zero-value or empty string.
func (r *ResultSet) IsNull(idx int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.valid {
		return true
	}
	return r.conn.pool.drv.CursorIsNull(r.cursor, idx)
}

// GetString returns column idx as a string.
func (r *ResultSet) GetString(idx int) (string, error) {
	cursor, err := r.liveCursor()
	if err != nil {
		return "", err
	}
	v, err := r.conn.pool.drv.CursorGetString(cursor, idx)
	if err != nil {
		r.conn.recordError(err)
		return "", poolerr.Sql("getString", err)
	}
	return v, nil
}

// GetInt returns column idx as a platform int.
func (r *ResultSet) GetInt(idx int) (int64, error) {
	cursor, err := r.liveCursor()
	if err != nil {
		return 0, err
	}
	v, err := r.conn.pool.drv.CursorGetInt(cursor, idx)
	if err != nil {
		r.conn.recordError(err)
		return 0, poolerr.Sql("getInt", err)
	}
	return v, nil
}

// GetLong returns column idx as a 64-bit integer.
func (r *ResultSet) GetLong(idx int) (int64, error) {
	cursor, err := r.liveCursor()
	if err != nil {
		return 0, err
	}
	v, err := r.conn.pool.drv.CursorGetLong(cursor, idx)
	if err != nil {
		r.conn.recordError(err)
		return 0, poolerr.Sql("getLong", err)
	}
	return v, nil
}

// GetDouble returns column idx as a double.
func (r *ResultSet) GetDouble(idx int) (float64, error) {
	cursor, err := r.liveCursor()
	if err != nil {
		return 0, err
	}
	v, err := r.conn.pool.drv.CursorGetDouble(cursor, idx)
	if err != nil {
		r.conn.recordError(err)
		return 0, poolerr.Sql("getDouble", err)
	}
	return v, nil
}

// GetBlob returns column idx as raw bytes.
func (r *ResultSet) GetBlob(idx int) ([]byte, error) {
	cursor, err := r.liveCursor()
	if err != nil {
		return nil, err
	}
	v, err := r.conn.pool.drv.CursorGetBlob(cursor, idx)
	if err != nil {
		r.conn.recordError(err)
		return nil, poolerr.Sql("getBlob", err)
	}
	return v, nil
}

// GetTimestamp returns column idx as UTC seconds since the epoch.
func (r *ResultSet) GetTimestamp(idx int) (int64, error) {
	cursor, err := r.liveCursor()
	if err != nil {
		return 0, err
	}
	v, err := r.conn.pool.drv.CursorGetTimestamp(cursor, idx)
	if err != nil {
		r.conn.recordError(err)
		return 0, poolerr.Sql("getTimestamp", err)
	}
	return v, nil
}

// GetDateTime returns column idx as broken-down calendar fields, month
// 0-based, year literal.
func (r *ResultSet) GetDateTime(idx int) (driver.DateTime, error) {
	cursor, err := r.liveCursor()
	if err != nil {
		return driver.DateTime{}, err
	}
	v, err := r.conn.pool.drv.CursorGetDateTime(cursor, idx)
	if err != nil {
		r.conn.recordError(err)
		return driver.DateTime{}, poolerr.Sql("getDateTime", err)
	}
	return v, nil
}

func (r *ResultSet) liveCursor() (driver.Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.valid {
		return nil, poolerr.Misuse("column access on an invalidated result set")
	}
	return r.cursor, nil
}

// invalidate marks the result set unusable and closes its cursor. Calling
// invalidate twice is a no-op.
func (r *ResultSet) invalidate() {
	r.mu.Lock()
	if !r.valid {
		r.mu.Unlock()
		return
	}
	r.valid = false
	cursor := r.cursor
	stmt := r.stmt
	ownsStmt := r.ownsStmt
	r.mu.Unlock()

	if err := r.conn.pool.drv.CursorClose(cursor); err != nil {
		r.conn.recordError(err)
	}
	if ownsStmt && stmt != nil {
		stmt.close()
	}
}
