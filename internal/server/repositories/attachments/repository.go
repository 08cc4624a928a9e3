// Package attachments stores attachment metadata and the links between
// attachments and messages.
package attachments

import (
	"context"

	"github.com/dmitrijs2005/securemail/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, a *models.Attachment) (*models.Attachment, error)
	Get(ctx context.Context, id string) (*models.Attachment, error)
	Delete(ctx context.Context, id string) error
	IsReferenced(ctx context.Context, id string) (bool, error)
	ListByMessage(ctx context.Context, messageID string) ([]*models.Attachment, error)
	// Link attaches an existing attachment to a message. Linking twice is a
	// no-op; an unknown attachment id links nothing.
	Link(ctx context.Context, messageID, attachmentID string) (int64, error)
	Unlink(ctx context.Context, messageID, attachmentID string) error
	// RepairLinks links every attachment named in the message's
	// attachments_meta that exists but is not linked yet.
	RepairLinks(ctx context.Context, messageID string) (int64, error)
}
