package keys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/securemail/internal/common"
	"github.com/dmitrijs2005/securemail/internal/dbx"
	"github.com/dmitrijs2005/securemail/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert inserts the key pair or, when the user already has one, overwrites
// it. Either way the session columns end up NULL.
func (r *PostgresRepository) Upsert(ctx context.Context, userID, publicKey, privateKeyWrapped string) (*models.KeyRecord, error) {
	query := `
		INSERT INTO pgp_keys (user_id, public_key, private_key_wrapped)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET
			public_key = EXCLUDED.public_key,
			private_key_wrapped = EXCLUDED.private_key_wrapped,
			session_key = NULL,
			session_expires = NULL,
			session_secret = NULL,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`
	rec := &models.KeyRecord{UserID: userID, PublicKey: publicKey, PrivateKeyWrapped: privateKeyWrapped}
	err := r.db.QueryRowContext(ctx, query, userID, publicKey, privateKeyWrapped).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

// GetByUserID returns the user's key record or common.ErrorNotFound.
func (r *PostgresRepository) GetByUserID(ctx context.Context, userID string) (*models.KeyRecord, error) {
	query := `
		SELECT id, user_id, public_key, private_key_wrapped,
			session_key, session_expires, session_secret, created_at, updated_at
		FROM pgp_keys
		WHERE user_id = $1
	`
	var (
		rec            models.KeyRecord
		sessionKey     sql.NullString
		sessionExpires sql.NullTime
		sessionSecret  sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&rec.ID, &rec.UserID, &rec.PublicKey, &rec.PrivateKeyWrapped,
		&sessionKey, &sessionExpires, &sessionSecret, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if sessionKey.Valid {
		rec.SessionKey = &sessionKey.String
	}
	if sessionExpires.Valid {
		rec.SessionExpires = &sessionExpires.Time
	}
	if sessionSecret.Valid {
		rec.SessionSecret = &sessionSecret.String
	}
	return &rec, nil
}

// GetPublicKeyByUserID returns the armored public key of userID, or
// common.ErrorNotFound when the user has no key record.
func (r *PostgresRepository) GetPublicKeyByUserID(ctx context.Context, userID string) (string, error) {
	query := `SELECT public_key FROM pgp_keys WHERE user_id = $1`

	var key string
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return key, nil
}

// SetSession stores a session for the user's key record. Exactly one row
// must be affected; a missing record yields common.ErrorNotFound.
func (r *PostgresRepository) SetSession(ctx context.Context, userID, sessionKey, sessionSecret string, expires time.Time) error {
	query := `
		UPDATE pgp_keys
		SET session_key = $1, session_expires = $2, session_secret = $3, updated_at = now()
		WHERE user_id = $4
	`
	res, err := r.db.ExecContext(ctx, query, sessionKey, expires, sessionSecret, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

// ClearSession sets every session column to NULL.
func (r *PostgresRepository) ClearSession(ctx context.Context, userID string) error {
	query := `
		UPDATE pgp_keys
		SET session_key = NULL, session_expires = NULL, session_secret = NULL, updated_at = now()
		WHERE user_id = $1
	`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
