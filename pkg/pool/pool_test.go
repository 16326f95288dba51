package pool_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlpool/sqlpool/internal/poolerr"
	"github.com/sqlpool/sqlpool/internal/testdriver"
	"github.com/sqlpool/sqlpool/pkg/driver"
	"github.com/sqlpool/sqlpool/pkg/pool"
)

func newTestPool(t *testing.T, cfg pool.Config) (*pool.Pool, *testdriver.Driver) {
	t.Helper()
	drv := testdriver.New()
	p := pool.New("test-ds", drv, nil)
	require.NoError(t, p.Configure(cfg))
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { p.Stop() })
	return p, drv
}

func TestBasicCRUD(t *testing.T) {
	p, _ := newTestPool(t, pool.Config{Initial: 1, Max: 2, IdleTimeout: time.Minute})

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Execute(context.Background(), "INSERT INTO t VALUES (?, ?)", driver.IntValue(1), driver.StringValue("alice"))
	require.NoError(t, err)

	rs, err := conn.ExecuteQuery(context.Background(), "SELECT * FROM t")
	require.NoError(t, err)

	ok, err := rs.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	name, err := rs.GetString(2)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	ok, err = rs.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAutoRollbackOnRelease(t *testing.T) {
	p, _ := newTestPool(t, pool.Config{Initial: 1, Max: 1, IdleTimeout: time.Minute})

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.BeginTransaction(context.Background(), driver.Default))
	_, err = conn.Execute(context.Background(), "INSERT INTO t VALUES (?, ?)", driver.IntValue(1), driver.StringValue("ghost"))
	require.NoError(t, err)

	conn.Close() // never committed — pool must auto-rollback

	conn2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer conn2.Close()

	rs, err := conn2.ExecuteQuery(context.Background(), "SELECT * FROM t")
	require.NoError(t, err)
	ok, err := rs.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "row inserted inside a rolled-back transaction must not be visible")
}

func TestPoolFullFailsImmediately(t *testing.T) {
	p, _ := newTestPool(t, pool.Config{Initial: 1, Max: 1, IdleTimeout: time.Minute})

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, poolerr.ErrPoolFull))
}

func TestReapOnceNeverDropsBelowInitial(t *testing.T) {
	p, drv := newTestPool(t, pool.Config{Initial: 1, Max: 3, IdleTimeout: time.Nanosecond})

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c1.Close()
	c2.Close()

	require.Equal(t, 2, p.Size())
	time.Sleep(time.Millisecond)

	evicted := p.ReapOnce(context.Background())
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, p.Size(), "reap must never drop below the initial floor")

	_ = drv
}

func TestAcquirePingEvictsAndReplaces(t *testing.T) {
	p, drv := newTestPool(t, pool.Config{Initial: 1, Max: 2, IdleTimeout: time.Minute})

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn.Close()

	drv.FailPings(true)
	conn2, err := p.Acquire(context.Background())
	require.NoError(t, err, "a broken idle connection must be evicted and replaced, not surfaced as an error")
	defer conn2.Close()

	assert.Equal(t, 1, p.Size(), "the dead slot is replaced, not added alongside")
}

func TestNullDistinctFromZeroValue(t *testing.T) {
	p, _ := newTestPool(t, pool.Config{Initial: 1, Max: 1, IdleTimeout: time.Minute})

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Execute(context.Background(), "INSERT INTO t VALUES (?, ?)", driver.IntValue(0), driver.NullValue())
	require.NoError(t, err)

	rs, err := conn.ExecuteQuery(context.Background(), "SELECT * FROM t")
	require.NoError(t, err)
	ok, err := rs.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	assert.False(t, rs.IsNull(1), "an explicit zero value is not NULL")
	assert.True(t, rs.IsNull(2), "an unset column bound as NullValue must read back as NULL")
}

func TestPreparedStatementReusableAcrossExecutes(t *testing.T) {
	p, _ := newTestPool(t, pool.Config{Initial: 1, Max: 1, IdleTimeout: time.Minute})

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	stmt, err := conn.PrepareStatement(context.Background(), "INSERT INTO t VALUES (?, ?)")
	require.NoError(t, err)

	require.NoError(t, stmt.BindValues(driver.IntValue(1), driver.StringValue("a")))
	_, err = stmt.Execute(context.Background())
	require.NoError(t, err)

	require.NoError(t, stmt.BindValues(driver.IntValue(2), driver.StringValue("b")))
	_, err = stmt.Execute(context.Background())
	require.NoError(t, err, "a prepared statement must stay valid and reusable across repeated bind/execute cycles")
}

func TestBindValuesArityMismatchIsApiMisuse(t *testing.T) {
	p, _ := newTestPool(t, pool.Config{Initial: 1, Max: 1, IdleTimeout: time.Minute})

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	stmt, err := conn.PrepareStatement(context.Background(), "INSERT INTO t VALUES (?, ?)")
	require.NoError(t, err)

	err = stmt.BindValues(driver.IntValue(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, poolerr.ErrApiMisuse))
}

func TestAcquireAfterStopIsApiMisuse(t *testing.T) {
	drv := testdriver.New()
	p := pool.New("test-ds", drv, nil)
	require.NoError(t, p.Configure(pool.Config{Initial: 1, Max: 1, IdleTimeout: time.Minute}))
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop())

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, poolerr.ErrApiMisuse))
}

func TestResultSetInvalidatedByNewQueryOnSameConnection(t *testing.T) {
	p, _ := newTestPool(t, pool.Config{Initial: 1, Max: 1, IdleTimeout: time.Minute})

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Execute(context.Background(), "INSERT INTO t VALUES (?, ?)", driver.IntValue(1), driver.StringValue("a"))
	require.NoError(t, err)

	rs1, err := conn.ExecuteQuery(context.Background(), "SELECT * FROM t")
	require.NoError(t, err)

	_, err = conn.ExecuteQuery(context.Background(), "SELECT * FROM t")
	require.NoError(t, err)

	_, err = rs1.Next(context.Background())
	require.Error(t, err, "the first result set must be invalidated once a second query runs on the same connection")
	assert.True(t, errors.Is(err, poolerr.ErrApiMisuse))
}
