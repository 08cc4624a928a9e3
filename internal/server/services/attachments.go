package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/securemail/internal/common"
	"github.com/dmitrijs2005/securemail/internal/dbx"
	"github.com/dmitrijs2005/securemail/internal/logging"
	"github.com/dmitrijs2005/securemail/internal/server/blobstore"
	"github.com/dmitrijs2005/securemail/internal/server/models"
	"github.com/dmitrijs2005/securemail/internal/server/repositories/repomanager"
)

const downloadURLTTL = 15 * time.Minute

// UploadFile is one file received from a client.
type UploadFile struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AttachmentService stores attachment bytes in the blob store and their
// metadata in the database.
type AttachmentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blobs       blobstore.Store
	now         func() time.Time
	logger      logging.Logger
}

func NewAttachmentService(db *sql.DB, m repomanager.RepositoryManager, blobs blobstore.Store, logger logging.Logger) *AttachmentService {
	return &AttachmentService{
		db:          db,
		repomanager: m,
		blobs:       blobs,
		now:         time.Now,
		logger:      logger.With("module", "attachments"),
	}
}

// Upload stores one file. If the metadata row cannot be written the blob
// is removed again.
func (s *AttachmentService) Upload(ctx context.Context, userID string, f UploadFile) (*models.Attachment, error) {
	key, err := s.storeBlob(ctx, f)
	if err != nil {
		return nil, err
	}

	a, err := s.repomanager.Attachments(s.db).Create(ctx, s.newAttachment(userID, f, key))
	if err != nil {
		s.removeBlobs(ctx, key)
		return nil, fmt.Errorf("error creating attachment: %w", err)
	}
	return a, nil
}

// UploadMultiple stores all files or none of them.
func (s *AttachmentService) UploadMultiple(ctx context.Context, userID string, files []UploadFile) ([]*models.Attachment, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files", common.ErrorInvalidInput)
	}

	keys := make([]string, 0, len(files))
	for _, f := range files {
		key, err := s.storeBlob(ctx, f)
		if err != nil {
			s.removeBlobs(ctx, keys...)
			return nil, err
		}
		keys = append(keys, key)
	}

	result, err := dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) ([]*models.Attachment, error) {
		repo := s.repomanager.Attachments(tx)
		created := make([]*models.Attachment, 0, len(files))
		for i, f := range files {
			a, err := repo.Create(ctx, s.newAttachment(userID, f, keys[i]))
			if err != nil {
				return nil, fmt.Errorf("error creating attachment %q: %w", f.Filename, err)
			}
			created = append(created, a)
		}
		return created, nil
	})
	if err != nil {
		s.removeBlobs(ctx, keys...)
		return nil, err
	}
	return result, nil
}

func (s *AttachmentService) storeBlob(ctx context.Context, f UploadFile) (string, error) {
	if strings.TrimSpace(f.Filename) == "" || f.Body == nil {
		return "", fmt.Errorf("%w: file name is required", common.ErrorInvalidInput)
	}
	key := blobstore.NewStorageKey(s.now())
	if err := s.blobs.Store(ctx, key, f.Body, f.Size, f.ContentType); err != nil {
		return "", fmt.Errorf("error storing %q: %w", f.Filename, err)
	}
	return key, nil
}

func (s *AttachmentService) newAttachment(userID string, f UploadFile, key string) *models.Attachment {
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &models.Attachment{
		Filename:    f.Filename,
		FileSize:    f.Size,
		ContentType: contentType,
		StorageKey:  key,
		UploadedBy:  &userID,
	}
}

func (s *AttachmentService) removeBlobs(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Error(ctx, "orphaned blob", "storage_key", key, "error", err)
		}
	}
}

// Get returns attachment metadata and a short-lived download URL.
func (s *AttachmentService) Get(ctx context.Context, id string) (*models.Attachment, string, error) {
	a, err := s.get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	url, err := s.blobs.PresignGet(ctx, a.StorageKey, downloadURLTTL)
	if err != nil {
		return nil, "", fmt.Errorf("error presigning download: %w", err)
	}
	return a, url, nil
}

// Fetch opens the attachment content. The caller closes the reader.
func (s *AttachmentService) Fetch(ctx context.Context, id string) (*models.Attachment, io.ReadCloser, error) {
	a, err := s.get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.blobs.Fetch(ctx, a.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error fetching attachment: %w", err)
	}
	return a, body, nil
}

func (s *AttachmentService) get(ctx context.Context, id string) (*models.Attachment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}
	a, err := s.repomanager.Attachments(s.db).Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error getting attachment: %w", err)
	}
	return a, nil
}

// Delete removes an attachment nobody references. Only its uploader may
// delete it. The link check and the row delete share a transaction, and a
// link that lands in between still surfaces as common.ErrRejected.
func (s *AttachmentService) Delete(ctx context.Context, userID, id string) error {
	a, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if a.UploadedBy != nil && *a.UploadedBy != userID {
		return fmt.Errorf("%w: attachment belongs to another user", common.ErrRejected)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Attachments(tx)
		referenced, err := repo.IsReferenced(ctx, id)
		if err != nil {
			return fmt.Errorf("error checking attachment links: %w", err)
		}
		if referenced {
			return fmt.Errorf("%w: attachment is used by a message", common.ErrRejected)
		}
		if err := repo.Delete(ctx, id); err != nil {
			return fmt.Errorf("error deleting attachment: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.removeBlobs(ctx, a.StorageKey)
	return nil
}

// Link attaches existing attachments to one of the sender's messages.
// Ids that do not exist are skipped; already linked ids are left alone.
func (s *AttachmentService) Link(ctx context.Context, userID, messageID string, ids []string) (int64, error) {
	if err := s.checkSender(ctx, userID, messageID); err != nil {
		return 0, err
	}

	return dbx.WithTxValue(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) (int64, error) {
		repo := s.repomanager.Attachments(tx)
		var linked int64
		for _, id := range ids {
			if _, err := uuid.Parse(id); err != nil {
				return 0, fmt.Errorf("%w: malformed attachment id %q", common.ErrorInvalidInput, id)
			}
			n, err := repo.Link(ctx, messageID, id)
			if err != nil {
				return 0, fmt.Errorf("error linking attachment: %w", err)
			}
			linked += n
		}
		return linked, nil
	})
}

// Unlink detaches an attachment from one of the sender's messages.
func (s *AttachmentService) Unlink(ctx context.Context, userID, messageID, attachmentID string) error {
	if err := s.checkSender(ctx, userID, messageID); err != nil {
		return err
	}
	if _, err := uuid.Parse(attachmentID); err != nil {
		return common.ErrorNotFound
	}
	if err := s.repomanager.Attachments(s.db).Unlink(ctx, messageID, attachmentID); err != nil {
		return fmt.Errorf("error unlinking attachment: %w", err)
	}
	return nil
}

func (s *AttachmentService) checkSender(ctx context.Context, userID, messageID string) error {
	if _, err := uuid.Parse(messageID); err != nil {
		return common.ErrorNotFound
	}
	msg, err := s.repomanager.Messages(s.db).Get(ctx, messageID)
	if err != nil {
		return fmt.Errorf("error getting message: %w", err)
	}
	if !msg.IsParty(userID) {
		return common.ErrorNotFound
	}
	if !msg.IsSender(userID) {
		return fmt.Errorf("%w: only the sender can change attachments", common.ErrRejected)
	}
	return nil
}
