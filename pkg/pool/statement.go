package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/sqlpool/sqlpool/internal/poolerr"
	"github.com/sqlpool/sqlpool/pkg/driver"
)

// PreparedStatement is pre-parsed SQL with positional parameter slots,
// bound to exactly one Connection and valid until that Connection is
// returned to the pool. It keeps a slot table of bound references so
// that borrowed strings/blobs stay alive across bind -> execute.
type PreparedStatement struct {
	mu sync.Mutex

	conn       *Connection
	handle     driver.PreparedHandle
	paramCount int
	slots      map[int]driver.Value
	valid      bool
}

func newPreparedStatement(c *Connection, handle driver.PreparedHandle, paramCount int) *PreparedStatement {
	return &PreparedStatement{
		conn:       c,
		handle:     handle,
		paramCount: paramCount,
		slots:      make(map[int]driver.Value, paramCount),
		valid:      true,
	}
}

// GetParameterCount returns N, the number of positional parameter slots.
func (s *PreparedStatement) GetParameterCount() int {
	return s.paramCount
}

// Bind sets 1-based parameter slot idx to v. For KindString and KindBlob
// the reference is held in the slot table until the next Execute or
// ExecuteQuery call releases it — not copied.
func (s *PreparedStatement) Bind(idx int, v driver.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid {
		return poolerr.Misuse("bind on a statement whose connection was released")
	}
	if idx < 1 || idx > s.paramCount {
		return poolerr.Misuse(fmt.Sprintf("parameter index %d out of range [1..%d]", idx, s.paramCount))
	}
	if err := s.conn.pool.drv.Bind(context.Background(), s.handle, idx, v); err != nil {
		return poolerr.Sql("bind", err)
	}
	s.slots[idx] = v
	return nil
}

// BindValues binds vs positionally over [1..N]; arity mismatch is
// ApiMisuse.
func (s *PreparedStatement) BindValues(vs ...driver.Value) error {
	if len(vs) != s.paramCount {
		return poolerr.Misuse(fmt.Sprintf("bindValues arity %d does not match parameter count %d", len(vs), s.paramCount))
	}
	for i, v := range vs {
		if err := s.Bind(i+1, v); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs the statement expecting no result set, releasing bound
// slot references afterward. The statement itself stays valid and may be
// bound and executed again — it closes only when its connection closes
// it (see Connection.Execute's throwaway use) or is returned to the pool.
func (s *PreparedStatement) Execute(ctx context.Context) (int64, error) {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return 0, poolerr.Misuse("execute on a statement whose connection was released")
	}
	handle := s.handle
	s.mu.Unlock()

	n, err := s.conn.pool.drv.StmtExecute(ctx, handle)
	s.releaseSlots()
	if err != nil {
		s.conn.recordError(err)
		return 0, poolerr.Sql("stmtExecute", err)
	}
	return n, nil
}

// ExecuteQuery runs the statement expecting rows, returning a ResultSet
// that becomes the connection's current result set. Releases bound slot
// references afterward; the statement itself stays bound to its
// connection (spec §3) and is not closed by the result set's lifetime.
func (s *PreparedStatement) ExecuteQuery(ctx context.Context) (*ResultSet, error) {
	return s.doExecuteQuery(ctx, false)
}

// executeQueryOwned is used by Connection.Execute{,Query} when the
// statement was created solely to run one call and should close with the
// result set rather than outlive it.
func (s *PreparedStatement) executeQueryOwned(ctx context.Context) (*ResultSet, error) {
	return s.doExecuteQuery(ctx, true)
}

func (s *PreparedStatement) doExecuteQuery(ctx context.Context, ownsStmt bool) (*ResultSet, error) {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return nil, poolerr.Misuse("executeQuery on a statement whose connection was released")
	}
	handle := s.handle
	s.mu.Unlock()

	cursor, err := s.conn.pool.drv.StmtExecuteQuery(ctx, handle)
	s.releaseSlots()
	if err != nil {
		s.conn.recordError(err)
		return nil, poolerr.Sql("stmtExecuteQuery", err)
	}

	rs := newResultSet(s.conn, s, ownsStmt, cursor)
	s.conn.setCurrentResultSet(rs)
	return rs, nil
}

func (s *PreparedStatement) releaseSlots() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.slots {
		delete(s.slots, k)
	}
}

// close releases the statement handle. It is idempotent.
func (s *PreparedStatement) close() {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return
	}
	s.valid = false
	handle := s.handle
	s.mu.Unlock()

	if err := s.conn.pool.drv.StmtClose(handle); err != nil {
		s.conn.recordError(err)
	}
}
