package dbx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS links (message_id TEXT, attachment_id TEXT, PRIMARY KEY (message_id, attachment_id))`)
	require.NoError(t, err)
	return db
}

func links(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM links`).Scan(&n))
	return n
}

func insertLink(ctx context.Context, tx DBTX, m, a string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO links (message_id, attachment_id) VALUES (?, ?)`, m, a)
	return err
}

func TestWithTx_Commit(t *testing.T) {
	db := openDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if err := insertLink(ctx, tx, "m1", "a1"); err != nil {
			return err
		}
		return insertLink(ctx, tx, "m1", "a2")
	})

	require.NoError(t, err)
	assert.Equal(t, 2, links(t, db))
}

func TestWithTx_ErrorRollsBackEverything(t *testing.T) {
	db := openDB(t)
	sentinel := errors.New("second write failed")

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insertLink(ctx, tx, "m1", "a1"))
		return sentinel
	})

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 0, links(t, db))
}

func TestWithTx_ConstraintViolationRollsBack(t *testing.T) {
	db := openDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insertLink(ctx, tx, "m1", "a1"))
		return insertLink(ctx, tx, "m1", "a1")
	})

	require.Error(t, err)
	assert.Equal(t, 0, links(t, db))
}

func TestWithTx_PanicRollsBackAndPropagates(t *testing.T) {
	db := openDB(t)

	assert.PanicsWithValue(t, "boom", func() {
		_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
			require.NoError(t, insertLink(ctx, tx, "m1", "a1"))
			panic("boom")
		})
	})
	assert.Equal(t, 0, links(t, db))
}

func TestWithTx_BeginError(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.Close())

	called := false
	err := WithTx(context.Background(), db, nil, func(context.Context, DBTX) error {
		called = true
		return nil
	})

	require.ErrorContains(t, err, "begin tx")
	assert.False(t, called)
}

func TestWithTxValue(t *testing.T) {
	db := openDB(t)

	n, err := WithTxValue(context.Background(), db, nil, func(ctx context.Context, tx DBTX) (int, error) {
		for _, a := range []string{"a1", "a2", "a3"} {
			if err := insertLink(ctx, tx, "m1", a); err != nil {
				return 0, err
			}
		}
		return 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, links(t, db))

	n, err = WithTxValue(context.Background(), db, nil, func(ctx context.Context, tx DBTX) (int, error) {
		require.NoError(t, insertLink(ctx, tx, "m2", "a1"))
		return 1, errors.New("late failure")
	})
	require.Error(t, err)
	assert.Zero(t, n, "value is dropped when the transaction rolls back")
	assert.Equal(t, 3, links(t, db))
}
