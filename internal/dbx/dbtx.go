// Package dbx holds the small database helpers shared by repositories and
// services: the DBTX interface satisfied by *sql.DB and *sql.Tx, and
// transaction runners.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DBTX is the subset of database/sql the repositories need.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back when it returns an error or panics; the panic
// is re-raised after the rollback.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    _, err := m.Messages(tx).Create(ctx, msg)
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) error {
	_, err := WithTxValue(ctx, db, opts, func(ctx context.Context, tx DBTX) (struct{}, error) {
		return struct{}{}, fn(ctx, tx)
	})
	return err
}

// WithTxValue is WithTx for functions that produce a value. The value is
// returned only when the transaction committed.
//
// Parameters:
//   - db: the pool the transaction is started on.
//   - opts: isolation level and read-only flag; nil uses the driver default.
//   - fn: the work to run; it must use tx, not db, for its statements.
//
// Returns:
//   - result: what fn returned, or the zero value if anything failed.
//   - err: fn's error, joined with a rollback failure if there was one, or
//     the begin/commit error.
//
// Example:
//
//	created, err := dbx.WithTxValue(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) (*models.Attachment, error) {
//	    return m.Attachments(tx).Create(ctx, a)
//	})
func WithTxValue[T any](ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) (T, error)) (result T, err error) {
	var zero T

	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return zero, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			result = zero
			return
		}
		if err = tx.Commit(); err != nil {
			err = fmt.Errorf("commit tx: %w", err)
			result = zero
		}
	}()

	return fn(ctx, tx)
}
