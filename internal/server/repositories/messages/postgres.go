package messages

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

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

const selectColumns = `m.id, m.from_user_id, m.to_user_id, m.subject, m.content_encrypted,
		m.is_encrypted, m.is_draft, m.is_deleted_by_sender, m.is_deleted_by_recipient,
		m.attachments_meta, m.created_at, m.updated_at,
		fu.email, fu.first_name, fu.last_name, fu.middle_name,
		tu.email, tu.first_name, tu.last_name, tu.middle_name`

// fromMessages joins both parties so every read carries their directory entry.
const fromMessages = `FROM mail_messages m
		LEFT JOIN users fu ON fu.id = m.from_user_id
		LEFT JOIN users tu ON tu.id = m.to_user_id`

// folderPredicates hold the WHERE clause of each folder; $1 is the user id.
var folderPredicates = map[models.Folder]string{
	models.FolderAll:    `m.from_user_id = $1 OR m.to_user_id = $1`,
	models.FolderInbox:  `m.to_user_id = $1 AND NOT m.is_draft AND NOT m.is_deleted_by_recipient`,
	models.FolderSent:   `m.from_user_id = $1 AND NOT m.is_draft AND NOT m.is_deleted_by_sender`,
	models.FolderDrafts: `m.from_user_id = $1 AND m.is_draft AND NOT m.is_deleted_by_sender`,
	models.FolderTrash:  `(m.from_user_id = $1 AND m.is_deleted_by_sender) OR (m.to_user_id = $1 AND m.is_deleted_by_recipient)`,
}

// Create inserts m and fills in its id and timestamps. The parties are not
// loaded; m.From and m.To are left as they are.
func (r *PostgresRepository) Create(ctx context.Context, m *models.Message) (*models.Message, error) {
	meta, err := encodeMeta(m.AttachmentsMeta)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO mail_messages (from_user_id, to_user_id, subject, content_encrypted, is_encrypted, is_draft, attachments_meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		m.FromUserID, m.ToUserID, m.Subject, m.Content, m.IsEncrypted, m.IsDraft, meta).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

// UpdateDraft rewrites a message that is still a draft. It returns
// common.ErrorNotFound when the row is missing or no longer a draft.
func (r *PostgresRepository) UpdateDraft(ctx context.Context, m *models.Message) (*models.Message, error) {
	meta, err := encodeMeta(m.AttachmentsMeta)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE mail_messages
		SET to_user_id = $1, subject = $2, content_encrypted = $3, is_encrypted = $4,
			is_draft = $5, attachments_meta = $6, updated_at = now()
		WHERE id = $7 AND is_draft
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		m.ToUserID, m.Subject, m.Content, m.IsEncrypted, m.IsDraft, meta, m.ID).
		Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

// Get returns the message with both parties loaded, or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Message, error) {
	query := `SELECT ` + selectColumns + `
		` + fromMessages + `
		WHERE m.id = $1
	`
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id), false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

// ListFolder returns the folder's messages for userID, newest first, each
// with the number of linked attachments.
func (r *PostgresRepository) ListFolder(ctx context.Context, userID string, folder models.Folder) ([]*models.Message, error) {
	predicate, ok := folderPredicates[folder]
	if !ok {
		return nil, fmt.Errorf("%w: unknown folder %q", common.ErrorInvalidInput, folder)
	}

	query := `SELECT ` + selectColumns + `,
		(SELECT COUNT(*) FROM mail_message_attachments ma WHERE ma.message_id = m.id) AS linked
		` + fromMessages + `
		WHERE ` + predicate + `
		ORDER BY m.created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select messages: %w", err)
	}
	defer rows.Close()

	var result []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows, true)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SetSenderDeleted moves the message into or out of the sender's trash.
func (r *PostgresRepository) SetSenderDeleted(ctx context.Context, id string, deleted bool) error {
	query := `UPDATE mail_messages SET is_deleted_by_sender = $1, updated_at = now() WHERE id = $2`
	return r.execOne(ctx, query, deleted, id)
}

// SetRecipientDeleted is SetSenderDeleted for the recipient's side.
func (r *PostgresRepository) SetRecipientDeleted(ctx context.Context, id string, deleted bool) error {
	query := `UPDATE mail_messages SET is_deleted_by_recipient = $1, updated_at = now() WHERE id = $2`
	return r.execOne(ctx, query, deleted, id)
}

// Delete removes the message row; links go with it through ON DELETE CASCADE.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM mail_messages WHERE id = $1`
	return r.execOne(ctx, query, id)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
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

type scanner interface {
	Scan(dest ...any) error
}

// party holds the nullable users columns of one LEFT JOIN.
type party struct {
	email, first, last, middle sql.NullString
}

func (p *party) dest() []any {
	return []any{&p.email, &p.first, &p.last, &p.middle}
}

func (p *party) user(id sql.NullString) *models.User {
	if !id.Valid || !p.email.Valid {
		return nil
	}
	return &models.User{
		ID:         id.String,
		Email:      p.email.String,
		FirstName:  p.first.String,
		LastName:   p.last.String,
		MiddleName: p.middle.String,
	}
}

// scanMessage reads selectColumns, followed by the linked attachment count
// when withLinked is set.
func scanMessage(s scanner, withLinked bool) (*models.Message, error) {
	var (
		m          models.Message
		from       sql.NullString
		to         sql.NullString
		meta       []byte
		fromP, toP party
	)
	dest := []any{
		&m.ID, &from, &to, &m.Subject, &m.Content,
		&m.IsEncrypted, &m.IsDraft, &m.IsDeletedBySender, &m.IsDeletedByRecipient,
		&meta, &m.CreatedAt, &m.UpdatedAt,
	}
	dest = append(dest, fromP.dest()...)
	dest = append(dest, toP.dest()...)
	if withLinked {
		dest = append(dest, &m.LinkedAttachments)
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	if from.Valid {
		m.FromUserID = &from.String
	}
	if to.Valid {
		m.ToUserID = &to.String
	}
	m.From = fromP.user(from)
	m.To = toP.user(to)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.AttachmentsMeta); err != nil {
			return nil, fmt.Errorf("decoding attachments_meta: %w", err)
		}
	}
	return &m, nil
}

func encodeMeta(meta []models.AttachmentMeta) (string, error) {
	if meta == nil {
		meta = []models.AttachmentMeta{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encoding attachments_meta: %w", err)
	}
	return string(b), nil
}
