// Package store is the generic table/filter/payload persistence layer. Callers
// address rows by table name and a squirrel filter; every write is a single
// statement so contended columns are never read-modify-written in Go.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

var (
	// ErrNoRows is returned when a Get, Update-with-returning or Increment matches nothing.
	ErrNoRows = errors.New("store: no rows")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("store: duplicate key")
)

// Filter selects rows. Any squirrel predicate (Eq, Or, LtOrEq, ...) satisfies it.
type Filter = sq.Sqlizer

// Eq is an equality filter over columns.
type Eq = sq.Eq

// Query describes a SELECT against a single table.
type Query struct {
	Table   string
	Columns []string // empty means all columns
	Where   Filter
	OrderBy []string
	Limit   uint64
	Offset  uint64
	// ForUpdate locks the selected rows until the enclosing transaction ends.
	// SQLite serialises transactions on its single connection and ignores it.
	ForUpdate bool
}

// Store is the persistence contract consumed by every domain package.
type Store interface {
	Select(ctx context.Context, q Query) ([]Row, error)
	Get(ctx context.Context, table string, where Filter) (Row, error)
	Count(ctx context.Context, table string, where Filter) (int64, error)
	Insert(ctx context.Context, table string, row Row) error
	Upsert(ctx context.Context, table string, conflict []string, row Row) error
	Update(ctx context.Context, table string, where Filter, set Row) (int64, error)
	Increment(ctx context.Context, table string, where Filter, column string, delta int64) (int64, error)
	// InTx runs fn against a Store bound to one transaction. The transaction
	// commits when fn returns nil and rolls back otherwise. Calls on a Store
	// already inside a transaction run fn in that transaction.
	InTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
	Close() error
}

// querier is the statement surface shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	tx      *sql.Tx
	driver  Driver
	builder sq.StatementBuilderType
}

func (s *SQLStore) conn() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// InTx implements Store.
func (s *SQLStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	bound := &SQLStore{db: s.db, tx: tx, driver: s.driver, builder: s.builder}
	if err := fn(bound); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DB exposes the underlying handle (used by migrations).
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Driver reports which backend the store was opened with.
func (s *SQLStore) Driver() Driver {
	return s.driver
}

// Ping checks database connectivity (used for readiness probes).
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil || s.tx != nil {
		return nil
	}
	return s.db.Close()
}

// Select returns all rows matching q.
func (s *SQLStore) Select(ctx context.Context, q Query) ([]Row, error) {
	columns := q.Columns
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	b := s.builder.Select(columns...).From(q.Table)
	if q.Where != nil {
		b = b.Where(q.Where)
	}
	if len(q.OrderBy) > 0 {
		b = b.OrderBy(q.OrderBy...)
	}
	if q.Limit > 0 {
		b = b.Limit(q.Limit)
	}
	if q.Offset > 0 {
		b = b.Offset(q.Offset)
	}
	if q.ForUpdate && s.tx != nil && s.driver == DriverPostgres {
		b = b.Suffix("FOR UPDATE")
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select %s: %w", q.Table, err)
	}
	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", q.Table, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", q.Table, err)
	}
	return out, nil
}

// Get returns the first row matching where, or ErrNoRows.
func (s *SQLStore) Get(ctx context.Context, table string, where Filter) (Row, error) {
	rows, err := s.Select(ctx, Query{Table: table, Where: where, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows[0], nil
}

// Count returns the number of rows matching where.
func (s *SQLStore) Count(ctx context.Context, table string, where Filter) (int64, error) {
	b := s.builder.Select("COUNT(*)").From(table)
	if where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count %s: %w", table, err)
	}
	var n int64
	if err := s.conn().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Insert adds row to table.
func (s *SQLStore) Insert(ctx context.Context, table string, row Row) error {
	columns, values := row.split()
	query, args, err := s.builder.Insert(table).Columns(columns...).Values(values...).ToSql()
	if err != nil {
		return fmt.Errorf("build insert %s: %w", table, err)
	}
	if _, err := s.conn().ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert %s: %w", table, ErrDuplicate)
		}
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// Upsert inserts row or, when the conflict columns already exist, overwrites
// every other column with the new values.
func (s *SQLStore) Upsert(ctx context.Context, table string, conflict []string, row Row) error {
	columns, values := row.split()
	isConflict := make(map[string]bool, len(conflict))
	for _, c := range conflict {
		isConflict[c] = true
	}
	var assignments []string
	for _, c := range columns {
		if !isConflict[c] {
			assignments = append(assignments, c+" = excluded."+c)
		}
	}
	suffix := "ON CONFLICT (" + strings.Join(conflict, ", ") + ") DO NOTHING"
	if len(assignments) > 0 {
		suffix = "ON CONFLICT (" + strings.Join(conflict, ", ") + ") DO UPDATE SET " + strings.Join(assignments, ", ")
	}

	query, args, err := s.builder.Insert(table).Columns(columns...).Values(values...).Suffix(suffix).ToSql()
	if err != nil {
		return fmt.Errorf("build upsert %s: %w", table, err)
	}
	if _, err := s.conn().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

// Update sets the given columns on every row matching where and returns the
// number of rows affected.
func (s *SQLStore) Update(ctx context.Context, table string, where Filter, set Row) (int64, error) {
	if len(set) == 0 {
		return 0, fmt.Errorf("update %s: empty payload", table)
	}
	b := s.builder.Update(table).SetMap(map[string]any(set))
	if where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update %s: %w", table, err)
	}
	res, err := s.conn().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update %s: rows affected: %w", table, err)
	}
	return affected, nil
}

// Increment adds delta to column in a single UPDATE ... RETURNING statement and
// returns the new value. It returns ErrNoRows when where matches nothing.
func (s *SQLStore) Increment(ctx context.Context, table string, where Filter, column string, delta int64) (int64, error) {
	b := s.builder.Update(table).
		Set(column, sq.Expr(column+" + ?", delta)).
		Suffix("RETURNING " + column)
	if where != nil {
		b = b.Where(where)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build increment %s.%s: %w", table, column, err)
	}

	var value int64
	if err := s.conn().QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNoRows
		}
		return 0, fmt.Errorf("increment %s.%s: %w", table, column, err)
	}
	return value, nil
}

// scanner abstracts *sql.Rows for row-at-a-time decoding.
type scanner interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRows(rows scanner) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, c := range columns {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
