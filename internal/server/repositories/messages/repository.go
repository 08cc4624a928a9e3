// Package messages stores mail messages and projects them into per-user
// folders through the sender and recipient flags.
package messages

import (
	"context"

	"github.com/dmitrijs2005/securemail/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, m *models.Message) (*models.Message, error)
	// UpdateDraft rewrites a draft in place. Only rows still marked as
	// drafts are touched; otherwise common.ErrorNotFound is returned.
	UpdateDraft(ctx context.Context, m *models.Message) (*models.Message, error)
	Get(ctx context.Context, id string) (*models.Message, error)
	ListFolder(ctx context.Context, userID string, folder models.Folder) ([]*models.Message, error)
	SetSenderDeleted(ctx context.Context, id string, deleted bool) error
	SetRecipientDeleted(ctx context.Context, id string, deleted bool) error
	Delete(ctx context.Context, id string) error
}
