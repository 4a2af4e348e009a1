// Package postgres implements store.Store on PostgreSQL through database/sql and the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/memohai/rolodex/internal/db"
	"github.com/memohai/rolodex/internal/store"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the postgres store.Store.
type Store struct {
	db *sql.DB
	queries
}

var _ store.Store = (*Store)(nil)

// New wraps an open pool.
func New(conn *sql.DB) *Store {
	return &Store{db: conn, queries: queries{db: conn}}
}

// DB exposes the pool for components that need a dedicated connection (advisory locks).
func (s *Store) DB() *sql.DB { return s.db }

// WithTx runs fn in a read-committed transaction.
func (s *Store) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	return withTx(ctx, s.db, func(q *queries) error { return fn(q) })
}

func withTx(ctx context.Context, conn *sql.DB, fn func(q *queries) error) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(&queries{db: tx})
}

type queries struct {
	db DBTX
}

func (q *queries) inTx() bool {
	_, ok := q.db.(*sql.Tx)
	return ok
}

// atomic runs multi-statement writes in a transaction unless q is already bound to one.
func (q *queries) atomic(ctx context.Context, fn func(q *queries) error) error {
	if conn, ok := q.db.(*sql.DB); ok {
		return withTx(ctx, conn, fn)
	}
	return fn(q)
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	return err
}

func expectRow(res sql.Result, err error) error {
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return b, nil
}

func unmarshalJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

// where accumulates positional filter conditions.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " where " + strings.Join(w.conds, " and ")
}

func (w *where) limit(n int) string {
	if n <= 0 {
		return ""
	}
	w.args = append(w.args, n)
	return fmt.Sprintf(" limit $%d", len(w.args))
}
