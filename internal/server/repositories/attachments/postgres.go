package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

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

// Create inserts the attachment metadata and fills in the generated id and
// creation time. a is returned for chaining.
func (r *PostgresRepository) Create(ctx context.Context, a *models.Attachment) (*models.Attachment, error) {
	query := `
		INSERT INTO mail_attachments (filename, file_size, content_type, storage_key, uploaded_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, a.Filename, a.FileSize, a.ContentType, a.StorageKey, a.UploadedBy).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

// Get returns the attachment or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Attachment, error) {
	query := `
		SELECT id, filename, file_size, content_type, storage_key, uploaded_by, created_at
		FROM mail_attachments
		WHERE id = $1
	`
	a, err := scanAttachment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

// Delete removes the attachment row. A message link added concurrently
// trips the ON DELETE RESTRICT constraint, which is reported as
// common.ErrRejected rather than a database failure.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM mail_attachments WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: attachment is used by a message", common.ErrRejected)
		}
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// IsReferenced reports whether any message links the attachment.
func (r *PostgresRepository) IsReferenced(ctx context.Context, id string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM mail_message_attachments WHERE attachment_id = $1)`
	var referenced bool
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&referenced); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return referenced, nil
}

// ListByMessage returns the attachments linked to messageID, oldest first.
func (r *PostgresRepository) ListByMessage(ctx context.Context, messageID string) ([]*models.Attachment, error) {
	query := `
		SELECT a.id, a.filename, a.file_size, a.content_type, a.storage_key, a.uploaded_by, a.created_at
		FROM mail_attachments a
		JOIN mail_message_attachments ma ON ma.attachment_id = a.id
		WHERE ma.message_id = $1
		ORDER BY a.created_at
	`
	rows, err := r.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	var result []*models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Link records that messageID references attachmentID. It returns 0 when
// the attachment does not exist or the link is already there.
func (r *PostgresRepository) Link(ctx context.Context, messageID, attachmentID string) (int64, error) {
	query := `
		INSERT INTO mail_message_attachments (message_id, attachment_id)
		SELECT $1, a.id FROM mail_attachments a WHERE a.id = $2
		ON CONFLICT DO NOTHING
	`
	return r.execCount(ctx, query, messageID, attachmentID)
}

// Unlink removes one link. It returns common.ErrorNotFound when there was
// nothing to remove.
func (r *PostgresRepository) Unlink(ctx context.Context, messageID, attachmentID string) error {
	query := `DELETE FROM mail_message_attachments WHERE message_id = $1 AND attachment_id = $2`
	n, err := r.execCount(ctx, query, messageID, attachmentID)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// RepairLinks adds a link for every attachment listed in the message's
// attachments_meta that exists but is not linked yet.
//
// Parameters:
//   - ctx: request context
//   - messageID: id of the message whose metadata is authoritative
//
// Returns the number of links inserted. Entries of attachments_meta
// without an "id", or naming unknown attachments, are ignored.
func (r *PostgresRepository) RepairLinks(ctx context.Context, messageID string) (int64, error) {
	query := `
		INSERT INTO mail_message_attachments (message_id, attachment_id)
		SELECT m.id, a.id
		FROM mail_messages m
		CROSS JOIN LATERAL jsonb_array_elements(m.attachments_meta) AS meta(elem)
		JOIN mail_attachments a ON a.id::text = meta.elem->>'id'
		WHERE m.id = $1
		ON CONFLICT DO NOTHING
	`
	return r.execCount(ctx, query, messageID)
}

func (r *PostgresRepository) execCount(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// isForeignKeyViolation reports whether err is PostgreSQL foreign_key_violation.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttachment(s scanner) (*models.Attachment, error) {
	var (
		a          models.Attachment
		uploadedBy sql.NullString
	)
	if err := s.Scan(&a.ID, &a.Filename, &a.FileSize, &a.ContentType, &a.StorageKey, &uploadedBy, &a.CreatedAt); err != nil {
		return nil, err
	}
	if uploadedBy.Valid {
		a.UploadedBy = &uploadedBy.String
	}
	return &a, nil
}
