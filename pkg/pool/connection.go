package pool

import (
	"context"
	"sync"
	"time"

	"github.com/sqlpool/sqlpool/internal/poolerr"
	"github.com/sqlpool/sqlpool/pkg/driver"
)

// Connection is a single live session owned by a Pool. While a client
// holds it (available=false) the Pool still owns the slot but the client
// is the sole mutator — Connection itself is not safe for concurrent use
// by more than one goroutine, only the Pool's own bookkeeping is.
type Connection struct {
	mu sync.Mutex

	pool    *Pool // borrow reference; the Pool strictly outlives every Connection
	session driver.Session

	available bool
	lastUsed  time.Time

	inTransaction bool
	lastError     string

	currentResultSet *ResultSet
}

func newConnection(p *Pool, session driver.Session) *Connection {
	return &Connection{
		pool:      p,
		session:   session,
		available: false,
		lastUsed:  time.Now(),
	}
}

func (c *Connection) markAcquired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = false
	c.lastUsed = time.Now()
}

func (c *Connection) markIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available = true
	c.lastUsed = time.Now()
}

// Close returns the connection to its owning pool. Equivalent to calling
// Pool.Release(c).
func (c *Connection) Close() {
	c.pool.Release(c)
}

// Ping is a cheap liveness probe; a network or protocol failure is
// reported via the returned error, never a panic.
func (c *Connection) Ping(ctx context.Context) error {
	if err := c.pool.drv.Ping(ctx, c.session); err != nil {
		c.recordError(err)
		return poolerr.Sql("ping", err)
	}
	return nil
}

// BeginTransaction starts a transaction at the given isolation level.
// Nested begin without an intervening Commit/Rollback is ApiMisuse, not
// forwarded to the driver. A dialect that cannot honor iso must fail with
// SqlError rather than silently using a different level.
func (c *Connection) BeginTransaction(ctx context.Context, iso driver.Isolation) error {
	c.mu.Lock()
	if c.inTransaction {
		c.mu.Unlock()
		return poolerr.Misuse("nested beginTransaction")
	}
	c.mu.Unlock()

	if err := c.pool.drv.BeginTx(ctx, c.session, iso); err != nil {
		c.recordError(err)
		return poolerr.Sql("beginTransaction", err)
	}
	c.mu.Lock()
	c.inTransaction = true
	c.mu.Unlock()
	return nil
}

// Commit commits the current transaction. Valid only when inTransaction;
// a second Commit with no intervening begin is ApiMisuse.
func (c *Connection) Commit(ctx context.Context) error {
	c.mu.Lock()
	if !c.inTransaction {
		c.mu.Unlock()
		return poolerr.Misuse("commit without an open transaction")
	}
	c.mu.Unlock()

	if err := c.pool.drv.Commit(ctx, c.session); err != nil {
		c.recordError(err)
		return poolerr.Sql("commit", err)
	}
	c.mu.Lock()
	c.inTransaction = false
	c.mu.Unlock()
	return nil
}

// Rollback rolls back the current transaction, first tearing down any
// in-flight cursor via Clear. Valid only when inTransaction.
func (c *Connection) Rollback(ctx context.Context) error {
	c.mu.Lock()
	if !c.inTransaction {
		c.mu.Unlock()
		return poolerr.Misuse("rollback without an open transaction")
	}
	c.mu.Unlock()

	c.Clear()

	if err := c.pool.drv.Rollback(ctx, c.session); err != nil {
		c.recordError(err)
		return poolerr.Sql("rollback", err)
	}
	c.mu.Lock()
	c.inTransaction = false
	c.mu.Unlock()
	return nil
}

// Execute runs sql with no result set. When args is non-empty it
// internally prepares and binds rather than splicing values into the SQL
// string — a security contract, not an optimization.
func (c *Connection) Execute(ctx context.Context, sql string, args ...driver.Value) (int64, error) {
	c.Clear()

	if len(args) == 0 {
		n, err := c.pool.drv.Execute(ctx, c.session, sql)
		if err != nil {
			c.recordError(err)
			return 0, poolerr.Sql("execute", err)
		}
		return n, nil
	}

	stmt, err := c.PrepareStatement(ctx, sql)
	if err != nil {
		return 0, err
	}
	defer stmt.close()

	if err := stmt.BindValues(args...); err != nil {
		return 0, err
	}
	return stmt.Execute(ctx)
}

// ExecuteQuery runs sql, expected to produce at most one statement's
// worth of rows; any additional statements in the SQL string are ignored
// by the driver. Invalidates any prior live ResultSet on this connection.
func (c *Connection) ExecuteQuery(ctx context.Context, sql string, args ...driver.Value) (*ResultSet, error) {
	c.Clear()

	if len(args) == 0 {
		stmt, err := c.PrepareStatement(ctx, sql)
		if err != nil {
			return nil, err
		}
		rs, err := stmt.executeQueryOwned(ctx)
		if err != nil {
			stmt.close()
			return nil, err
		}
		return rs, nil
	}

	stmt, err := c.PrepareStatement(ctx, sql)
	if err != nil {
		return nil, err
	}
	if err := stmt.BindValues(args...); err != nil {
		stmt.close()
		return nil, err
	}
	rs, err := stmt.executeQueryOwned(ctx)
	if err != nil {
		stmt.close()
		return nil, err
	}
	return rs, nil
}

// PrepareStatement parses sql and returns a PreparedStatement bound to
// this connection, valid until the connection is returned to the pool.
func (c *Connection) PrepareStatement(ctx context.Context, sql string) (*PreparedStatement, error) {
	c.Clear()

	handle, paramCount, err := c.pool.drv.Prepare(ctx, c.session, sql)
	if err != nil {
		c.recordError(err)
		return nil, poolerr.Sql("prepare", err)
	}
	return newPreparedStatement(c, handle, paramCount), nil
}

// Clear invalidates the current ResultSet, if any, and discards pending
// driver-side row buffers. Calling Clear twice is a no-op.
func (c *Connection) Clear() {
	c.mu.Lock()
	rs := c.currentResultSet
	c.currentResultSet = nil
	c.mu.Unlock()

	if rs != nil {
		rs.invalidate()
	}
}

// LastRowID reports the last-insert row ID for the most recent statement
// on this connection. Dialects without a native concept (e.g. PostgreSQL)
// surface the driver's error as-is.
func (c *Connection) LastRowID(ctx context.Context) (int64, error) {
	id, err := c.pool.drv.LastRowID(ctx, c.session)
	if err != nil {
		c.recordError(err)
		return 0, poolerr.Sql("lastRowId", err)
	}
	return id, nil
}

// RowsChanged reports the rows affected by the most recent statement.
func (c *Connection) RowsChanged(ctx context.Context) (int64, error) {
	n, err := c.pool.drv.RowsChanged(ctx, c.session)
	if err != nil {
		c.recordError(err)
		return 0, poolerr.Sql("rowsChanged", err)
	}
	return n, nil
}

// GetLastError returns the last dialect-level error message recorded
// against this connection, distinct from any Go error already returned.
func (c *Connection) GetLastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Connection) recordError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = c.pool.drv.LastError(c.session)
	if c.lastError == "" && err != nil {
		c.lastError = err.Error()
	}
}

// setCurrentResultSet replaces any live result set with rs, invalidating
// the previous one first.
func (c *Connection) setCurrentResultSet(rs *ResultSet) {
	c.mu.Lock()
	prev := c.currentResultSet
	c.currentResultSet = rs
	c.mu.Unlock()
	if prev != nil {
		prev.invalidate()
	}
}
