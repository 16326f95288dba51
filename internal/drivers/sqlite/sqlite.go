// Package sqlite adapts SQLite, via modernc.org/sqlite, to the
// driver.Driver interface the pool core consumes. SQLite has no
// SET TRANSACTION ISOLATION LEVEL; Immediate and Exclusive map to the
// literal BEGIN IMMEDIATE/BEGIN EXCLUSIVE statements, Default,
// ReadCommitted, RepeatableRead and Serializable begin a plain deferred
// transaction, and ReadUncommitted is rejected at begin time.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/sqlpool/sqlpool/internal/drivers/internal/sqlbridge"
	"github.com/sqlpool/sqlpool/pkg/driver"
)

// Driver implements driver.Driver over database/sql with the "sqlite"
// driver name registered by modernc.org/sqlite.
type Driver struct{}

// New returns a sqlite Driver.
func New() *Driver { return &Driver{} }

func (Driver) Open(ctx context.Context, dsn string) (driver.Session, error) {
	db, err := sql.Open("sqlite", dsn)
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
	return sqlbridge.NewSession(db, isolationClause, sqlbridge.WithBeginStmt(beginStmt)), nil
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

// beginStmt picks the literal BEGIN form for every isolation level SQLite
// can represent. Only ReadUncommitted has no SQLite equivalent reachable
// through a BEGIN clause (PRAGMA read_uncommitted is connection-wide, not
// transaction-scoped) and is rejected.
func beginStmt(iso driver.Isolation) (string, bool) {
	switch iso {
	case driver.Immediate:
		return "BEGIN IMMEDIATE", true
	case driver.Exclusive:
		return "BEGIN EXCLUSIVE", true
	case driver.Default, driver.ReadCommitted, driver.RepeatableRead, driver.Serializable:
		return "BEGIN DEFERRED", true
	default:
		return "", false
	}
}

// isolationClause is reached only for levels beginStmt above rejects
// (Session.BeginTx falls through to isoFn when beginStmt returns false),
// so it always returns the rejection error; it also satisfies the
// IsolationTranslator signature sqlbridge.NewSession requires.
func isolationClause(iso driver.Isolation) (string, error) {
	return "", fmt.Errorf("sqlite: unsupported isolation level %s", iso)
}
