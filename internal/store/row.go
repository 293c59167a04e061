package store

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Row is a single record keyed by column name.
type Row map[string]any

func (r Row) split() ([]string, []any) {
	columns := make([]string, 0, len(r))
	for c := range r {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	values := make([]any, len(columns))
	for i, c := range columns {
		values[i] = r[c]
	}
	return columns, values
}

// String returns the column as a string; NULL yields "".
func (r Row) String(column string) string {
	switch v := r[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// NullString returns nil for NULL or empty columns.
func (r Row) NullString(column string) *string {
	if s := r.String(column); s != "" {
		return &s
	}
	return nil
}

// Int64 returns the column as an integer; NULL and unparseable values yield 0.
func (r Row) Int64(column string) int64 {
	switch v := r[column].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	default:
		return 0
	}
}

// Bool treats non-zero integers as true.
func (r Row) Bool(column string) bool {
	if b, ok := r[column].(bool); ok {
		return b
	}
	return r.Int64(column) != 0
}

// Time decodes a unix-seconds column; NULL yields the zero time.
func (r Row) Time(column string) time.Time {
	if t := r.NullTime(column); t != nil {
		return *t
	}
	return time.Time{}
}

// NullTime decodes a nullable unix-seconds column.
func (r Row) NullTime(column string) *time.Time {
	if r[column] == nil {
		return nil
	}
	t := time.Unix(r.Int64(column), 0).UTC()
	return &t
}

// UnixOrNil encodes t as unix seconds, or NULL when t is nil or zero.
func UnixOrNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Unix()
}

// StringOrNil encodes s, or NULL when s is nil or empty.
func StringOrNil(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

// BoolInt encodes a boolean as 0/1.
func BoolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
