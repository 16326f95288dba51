package sqlbridge

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/sqlpool/sqlpool/pkg/driver"
)

// Cursor wraps *sql.Rows, scanning each row into a slice of `any` so the
// driver's native Go types (int64, float64, []byte, string, time.Time,
// nil) come through untouched for the type accessors below to convert.
type Cursor struct {
	session *Session
	rows    *sql.Rows
	columns []string
	current []interface{}
}

func newCursor(s *Session, rows *sql.Rows, columns []string) *Cursor {
	return &Cursor{session: s, rows: rows, columns: columns}
}

// Curs asserts c back to *Cursor.
func Curs(c driver.Cursor) *Cursor { return c.(*Cursor) }

func (c *Cursor) Next() (bool, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			c.session.setError(err)
			return false, err
		}
		return false, nil
	}
	vals := make([]interface{}, len(c.columns))
	ptrs := make([]interface{}, len(c.columns))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		c.session.setError(err)
		return false, err
	}
	c.current = vals
	return true, nil
}

func (c *Cursor) ColumnCount() int { return len(c.columns) }

func (c *Cursor) ColumnName(idx int) string {
	if idx < 1 || idx > len(c.columns) {
		return ""
	}
	return c.columns[idx-1]
}

func (c *Cursor) IsNull(idx int) bool {
	v, ok := c.at(idx)
	return !ok || v == nil
}

func (c *Cursor) at(idx int) (interface{}, bool) {
	if idx < 1 || idx > len(c.current) {
		return nil, false
	}
	return c.current[idx-1], true
}

func (c *Cursor) GetString(idx int) (string, error) {
	v, _ := c.at(idx)
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	default:
		return fmt.Sprintf("%v", x), nil
	}
}

func (c *Cursor) GetInt(idx int) (int64, error) {
	v, _ := c.at(idx)
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	case string:
		return strconv.ParseInt(x, 10, 64)
	default:
		return 0, fmt.Errorf("sqlbridge: column %d is not an integer: %v", idx, x)
	}
}

func (c *Cursor) GetDouble(idx int) (float64, error) {
	v, _ := c.at(idx)
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case []byte:
		return strconv.ParseFloat(string(x), 64)
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("sqlbridge: column %d is not a double: %v", idx, x)
	}
}

func (c *Cursor) GetBlob(idx int) ([]byte, error) {
	v, _ := c.at(idx)
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	default:
		return nil, fmt.Errorf("sqlbridge: column %d is not a blob: %v", idx, x)
	}
}

// GetTimestamp returns UTC seconds since the epoch. Dialects that store
// timestamps as ISO-8601 strings (SQLite) fall through to ParseISO8601.
func (c *Cursor) GetTimestamp(idx int) (int64, error) {
	v, _ := c.at(idx)
	switch x := v.(type) {
	case nil:
		return 0, nil
	case time.Time:
		return x.UTC().Unix(), nil
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	case []byte:
		return parseTimestampText(string(x))
	case string:
		return parseTimestampText(x)
	default:
		return 0, fmt.Errorf("sqlbridge: column %d is not a timestamp: %v", idx, x)
	}
}

func parseTimestampText(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	t, err := ParseISO8601(s)
	if err != nil {
		return 0, err
	}
	return t.UTC().Unix(), nil
}

// GetDateTime returns broken-down calendar fields, month 0-based, with a
// timezone offset where the source carried one.
func (c *Cursor) GetDateTime(idx int) (driver.DateTime, error) {
	v, _ := c.at(idx)
	var t time.Time
	hasOffset := false
	offsetSec := 0

	switch x := v.(type) {
	case nil:
		return driver.DateTime{}, nil
	case time.Time:
		t = x
		_, offsetSec = x.Zone()
		hasOffset = true
	case int64:
		t = time.Unix(x, 0).UTC()
	case []byte:
		parsed, off, ok, err := parseDateTimeText(string(x))
		if err != nil {
			return driver.DateTime{}, err
		}
		t, offsetSec, hasOffset = parsed, off, ok
	case string:
		parsed, off, ok, err := parseDateTimeText(x)
		if err != nil {
			return driver.DateTime{}, err
		}
		t, offsetSec, hasOffset = parsed, off, ok
	default:
		return driver.DateTime{}, fmt.Errorf("sqlbridge: column %d is not a datetime: %v", idx, x)
	}

	return driver.DateTime{
		Year:       t.Year(),
		Month:      int(t.Month()) - 1,
		Day:        t.Day(),
		Hour:       t.Hour(),
		Minute:     t.Minute(),
		Second:     t.Second(),
		Nanosecond: t.Nanosecond(),
		OffsetSec:  offsetSec,
		HasOffset:  hasOffset,
	}, nil
}

func parseDateTimeText(s string) (time.Time, int, bool, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), 0, false, nil
	}
	t, err := ParseISO8601(s)
	if err != nil {
		return time.Time{}, 0, false, err
	}
	_, off := t.Zone()
	return t, off, true, nil
}

func (c *Cursor) Close() error { return c.rows.Close() }
