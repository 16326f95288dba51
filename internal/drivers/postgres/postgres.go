// Package postgres adapts PostgreSQL, via lib/pq, to the driver.Driver
// interface the pool core consumes.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/sqlpool/sqlpool/internal/drivers/internal/sqlbridge"
	"github.com/sqlpool/sqlpool/pkg/driver"
)

// Driver implements driver.Driver over database/sql with the "postgres"
// driver name registered by lib/pq. PostgreSQL uses "$1, $2, ..."
// placeholders and has no native last-insert-id (callers use RETURNING).
type Driver struct{}

// New returns a postgres Driver.
func New() *Driver { return &Driver{} }

func (Driver) Open(ctx context.Context, dsn string) (driver.Session, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return sqlbridge.NewSession(db, isolationClause,
		sqlbridge.WithPlaceholderStyle(sqlbridge.PlaceholderDollar),
		sqlbridge.WithNoLastInsertID(),
	), nil
}

func (Driver) Close(s driver.Session) error { return sqlbridge.Sess(s).Close() }

func (Driver) Ping(ctx context.Context, s driver.Session) error { return sqlbridge.Sess(s).Ping(ctx) }

func (Driver) BeginTx(ctx context.Context, s driver.Session, iso driver.Isolation) error {
	return sqlbridge.Sess(s).BeginTx(ctx, iso)
}
func (Driver) Commit(ctx context.Context, s driver.Session) error   { return sqlbridge.Sess(s).Commit() }
func (Driver) Rollback(ctx context.Context, s driver.Session) error { return sqlbridge.Sess(s).Rollback() }

func (Driver) Execute(ctx context.Context, s driver.Session, sqlText string) (int64, error) {
	return sqlbridge.Sess(s).Execute(ctx, sqlText)
}

func (Driver) Prepare(ctx context.Context, s driver.Session, sqlText string) (driver.PreparedHandle, int, error) {
	return sqlbridge.Sess(s).Prepare(ctx, sqlText)
}
func (Driver) Bind(ctx context.Context, h driver.PreparedHandle, idx int, v driver.Value) error {
	return sqlbridge.StmtOf(h).Bind(idx, v)
}
func (Driver) StmtExecute(ctx context.Context, h driver.PreparedHandle) (int64, error) {
	return sqlbridge.StmtOf(h).Execute(ctx)
}
func (Driver) StmtExecuteQuery(ctx context.Context, h driver.PreparedHandle) (driver.Cursor, error) {
	return sqlbridge.StmtOf(h).ExecuteQuery(ctx)
}
func (Driver) StmtClose(h driver.PreparedHandle) error { return sqlbridge.StmtOf(h).Close() }

func (Driver) CursorNext(ctx context.Context, c driver.Cursor) (bool, error) {
	return sqlbridge.Curs(c).Next()
}
func (Driver) CursorColumnCount(c driver.Cursor) int            { return sqlbridge.Curs(c).ColumnCount() }
func (Driver) CursorColumnName(c driver.Cursor, idx int) string { return sqlbridge.Curs(c).ColumnName(idx) }
func (Driver) CursorIsNull(c driver.Cursor, idx int) bool       { return sqlbridge.Curs(c).IsNull(idx) }
func (Driver) CursorGetString(c driver.Cursor, idx int) (string, error) {
	return sqlbridge.Curs(c).GetString(idx)
}
func (Driver) CursorGetInt(c driver.Cursor, idx int) (int64, error) {
	return sqlbridge.Curs(c).GetInt(idx)
}
func (Driver) CursorGetLong(c driver.Cursor, idx int) (int64, error) {
	return sqlbridge.Curs(c).GetInt(idx)
}
func (Driver) CursorGetDouble(c driver.Cursor, idx int) (float64, error) {
	return sqlbridge.Curs(c).GetDouble(idx)
}
func (Driver) CursorGetBlob(c driver.Cursor, idx int) ([]byte, error) {
	return sqlbridge.Curs(c).GetBlob(idx)
}
func (Driver) CursorGetTimestamp(c driver.Cursor, idx int) (int64, error) {
	return sqlbridge.Curs(c).GetTimestamp(idx)
}
func (Driver) CursorGetDateTime(c driver.Cursor, idx int) (driver.DateTime, error) {
	return sqlbridge.Curs(c).GetDateTime(idx)
}
func (Driver) CursorClose(c driver.Cursor) error { return sqlbridge.Curs(c).Close() }

func (Driver) LastRowID(ctx context.Context, s driver.Session) (int64, error) {
	return sqlbridge.Sess(s).LastRowID()
}
func (Driver) RowsChanged(ctx context.Context, s driver.Session) (int64, error) {
	return sqlbridge.Sess(s).RowsChanged()
}
func (Driver) LastError(s driver.Session) string { return sqlbridge.Sess(s).LastError() }

func (Driver) SetQueryTimeout(s driver.Session, ms int) error {
	sqlbridge.Sess(s).SetQueryTimeout(ms)
	return nil
}
func (Driver) SetFetchSize(s driver.Session, n int) error {
	sqlbridge.Sess(s).SetFetchSize(n)
	return nil
}
func (Driver) SetMaxRows(s driver.Session, n int) error {
	sqlbridge.Sess(s).SetMaxRows(n)
	return nil
}

// isolationClause translates a driver.Isolation into the clause used by
// "SET TRANSACTION ISOLATION LEVEL ...". PostgreSQL has no BEGIN
// IMMEDIATE/EXCLUSIVE concept; those levels are SQLite-only and rejected.
func isolationClause(iso driver.Isolation) (string, error) {
	switch iso {
	case driver.Default, driver.ReadCommitted:
		return "READ COMMITTED", nil
	case driver.ReadUncommitted:
		return "READ UNCOMMITTED", nil
	case driver.RepeatableRead:
		return "REPEATABLE READ", nil
	case driver.Serializable:
		return "SERIALIZABLE", nil
	default:
		return "", fmt.Errorf("postgres: unsupported isolation level %s", iso)
	}
}
