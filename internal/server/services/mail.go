package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/securemail/internal/common"
	"github.com/dmitrijs2005/securemail/internal/cryptox"
	"github.com/dmitrijs2005/securemail/internal/dbx"
	"github.com/dmitrijs2005/securemail/internal/logging"
	"github.com/dmitrijs2005/securemail/internal/server/config"
	"github.com/dmitrijs2005/securemail/internal/server/models"
	"github.com/dmitrijs2005/securemail/internal/server/repositories/repomanager"
)

// SendRequest is the content of a new message or a draft update.
type SendRequest struct {
	ToUserID        string
	Subject         string
	Body            string
	IsEncrypted     bool
	IsDraft         bool
	AttachmentsMeta []models.AttachmentMeta
}

// MailService implements the mail store and its per-user folders.
type MailService struct {
	db              *sql.DB
	repomanager     repomanager.RepositoryManager
	engine          Engine
	sessions        *SessionService
	recipientPolicy string
	logger          logging.Logger
}

func NewMailService(db *sql.DB, m repomanager.RepositoryManager, engine Engine, sessions *SessionService, cfg *config.Config, logger logging.Logger) *MailService {
	return &MailService{
		db:              db,
		repomanager:     m,
		engine:          engine,
		sessions:        sessions,
		recipientPolicy: cfg.RecipientPolicy,
		logger:          logger.With("module", "mail"),
	}
}

// Send stores a new message from fromUserID. The body is encrypted to the
// recipient's public key when req.IsEncrypted is set. The insert and the
// attachment link repair share one transaction.
func (s *MailService) Send(ctx context.Context, fromUserID string, req SendRequest) (*models.Message, error) {
	to, err := s.resolveRecipient(ctx, fromUserID, req.ToUserID)
	if err != nil {
		return nil, err
	}

	content, err := s.prepareContent(ctx, to, req)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		FromUserID:      &fromUserID,
		ToUserID:        &to,
		Subject:         req.Subject,
		Content:         content,
		IsEncrypted:     req.IsEncrypted,
		IsDraft:         req.IsDraft,
		AttachmentsMeta: req.AttachmentsMeta,
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Messages(tx).Create(ctx, msg); err != nil {
			return fmt.Errorf("error creating message: %w", err)
		}
		n, err := s.RepairAttachmentLinks(ctx, tx, msg.ID)
		if err != nil {
			return err
		}
		msg.LinkedAttachments = int(n)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "message stored", "message_id", msg.ID, "encrypted", msg.IsEncrypted, "draft", msg.IsDraft)
	s.withParties(ctx, msg)
	return msg, nil
}

// UpdateDraft rewrites one of the sender's drafts. Clearing IsDraft sends it.
func (s *MailService) UpdateDraft(ctx context.Context, userID, messageID string, req SendRequest) (*models.Message, error) {
	msg, err := s.getVisible(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.IsSender(userID) || !msg.IsDraft {
		return nil, fmt.Errorf("%w: only the sender's drafts can be edited", common.ErrRejected)
	}

	to, err := s.resolveRecipient(ctx, userID, req.ToUserID)
	if err != nil {
		return nil, err
	}
	content, err := s.prepareContent(ctx, to, req)
	if err != nil {
		return nil, err
	}

	dropped := droppedIDs(msg.AttachmentIDs(), req.AttachmentsMeta)

	msg.ToUserID = &to
	msg.Subject = req.Subject
	msg.Content = content
	msg.IsEncrypted = req.IsEncrypted
	msg.IsDraft = req.IsDraft
	msg.AttachmentsMeta = req.AttachmentsMeta

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Messages(tx).UpdateDraft(ctx, msg); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return fmt.Errorf("%w: message is no longer a draft", common.ErrRejected)
			}
			return fmt.Errorf("error updating draft: %w", err)
		}
		if err := s.unlinkDropped(ctx, tx, msg.ID, dropped); err != nil {
			return err
		}
		n, err := s.RepairAttachmentLinks(ctx, tx, msg.ID)
		if err != nil {
			return err
		}
		msg.LinkedAttachments = int(n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.withParties(ctx, msg)
	return msg, nil
}

// RepairAttachmentLinks links every attachment listed in the message's
// metadata that exists and is not linked yet. Running it again changes
// nothing.
func (s *MailService) RepairAttachmentLinks(ctx context.Context, tx dbx.DBTX, messageID string) (int64, error) {
	n, err := s.repomanager.Attachments(tx).RepairLinks(ctx, messageID)
	if err != nil {
		return 0, fmt.Errorf("error linking attachments: %w", err)
	}
	if n > 0 {
		s.logger.Debug(ctx, "attachment links repaired", "message_id", messageID, "linked", n)
	}
	return n, nil
}

// unlinkDropped removes the links of attachments a draft no longer lists,
// so the referential guard stops protecting them.
func (s *MailService) unlinkDropped(ctx context.Context, tx dbx.DBTX, messageID string, ids []string) error {
	repo := s.repomanager.Attachments(tx)
	for _, id := range ids {
		err := repo.Unlink(ctx, messageID, id)
		if err != nil && !errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("error unlinking attachment: %w", err)
		}
	}
	return nil
}

// droppedIDs returns the well-formed ids of old that next does not list.
func droppedIDs(old []string, next []models.AttachmentMeta) []string {
	keep := make(map[string]struct{}, len(next))
	for _, a := range next {
		keep[a.ID] = struct{}{}
	}
	var out []string
	for _, id := range old {
		if _, ok := keep[id]; ok {
			continue
		}
		if _, err := uuid.Parse(id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// withParties loads the parties of a freshly written message. The write has
// already committed, so a lookup failure is only logged.
func (s *MailService) withParties(ctx context.Context, msg *models.Message) {
	if err := s.loadParties(ctx, msg); err != nil {
		s.logger.Warn(ctx, "message parties not loaded", "message_id", msg.ID, "error", err)
	}
}

// loadParties fills msg.From and msg.To from the user directory. A party
// that no longer exists stays nil.
func (s *MailService) loadParties(ctx context.Context, msg *models.Message) error {
	repo := s.repomanager.Users(s.db)
	load := func(id *string) (*models.User, error) {
		if id == nil {
			return nil, nil
		}
		u, err := repo.GetByID(ctx, *id)
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("error getting user: %w", err)
		}
		return u, nil
	}

	var err error
	if msg.From, err = load(msg.FromUserID); err != nil {
		return err
	}
	msg.To, err = load(msg.ToUserID)
	return err
}

func (s *MailService) resolveRecipient(ctx context.Context, fromUserID, to string) (string, error) {
	to = strings.TrimSpace(to)

	if to != "" && !strings.HasPrefix(to, common.TempRecipientPrefix) {
		if _, err := uuid.Parse(to); err != nil {
			return "", fmt.Errorf("%w: malformed recipient id", common.ErrorInvalidInput)
		}
		_, err := s.repomanager.Users(s.db).GetByID(ctx, to)
		if err == nil {
			return to, nil
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return "", fmt.Errorf("error getting recipient: %w", err)
		}
	}

	if s.recipientPolicy == config.RecipientPolicyReject {
		return "", fmt.Errorf("recipient %q: %w", to, common.ErrorNotFound)
	}
	s.logger.Warn(ctx, "recipient not resolved, addressing message to sender", "recipient", to, "user_id", fromUserID)
	return fromUserID, nil
}

func (s *MailService) prepareContent(ctx context.Context, to string, req SendRequest) (string, error) {
	if !req.IsEncrypted {
		return req.Body, nil
	}

	pub, err := s.repomanager.Keys(s.db).GetPublicKeyByUserID(ctx, to)
	if err != nil {
		return "", fmt.Errorf("recipient public key: %w", err)
	}

	ct, err := s.engine.Encrypt(req.Body, pub)
	observeCrypto("encrypt", err)
	if err != nil {
		return "", err
	}
	return ct, nil
}

// ListFolder returns the messages of one folder, newest first.
func (s *MailService) ListFolder(ctx context.Context, userID string, folder models.Folder) ([]*models.Message, error) {
	if !folder.Valid() {
		return nil, fmt.Errorf("%w: unknown folder %q", common.ErrorInvalidInput, folder)
	}
	list, err := s.repomanager.Messages(s.db).ListFolder(ctx, userID, folder)
	if err != nil {
		return nil, fmt.Errorf("error listing %s: %w", folderName(folder), err)
	}
	return list, nil
}

func folderName(f models.Folder) string {
	if f == models.FolderAll {
		return "messages"
	}
	return string(f)
}

// Get returns a message with its attachments. Messages the user is not a
// party to do not exist for them.
func (s *MailService) Get(ctx context.Context, userID, messageID string) (*models.Message, error) {
	msg, err := s.getVisible(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	atts, err := s.repomanager.Attachments(s.db).ListByMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("error getting attachments: %w", err)
	}
	msg.Attachments = atts
	msg.LinkedAttachments = len(atts)
	return msg, nil
}

func (s *MailService) getVisible(ctx context.Context, userID, messageID string) (*models.Message, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return nil, common.ErrorNotFound
	}
	msg, err := s.repomanager.Messages(s.db).Get(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("error getting message: %w", err)
	}
	if !msg.IsParty(userID) {
		return nil, common.ErrorNotFound
	}
	return msg, nil
}

// SoftDelete moves the message to the user's trash without touching the
// other party's view.
func (s *MailService) SoftDelete(ctx context.Context, userID, messageID string) (*models.Message, error) {
	return s.setDeleted(ctx, userID, messageID, true)
}

// Restore takes the message out of the user's trash.
func (s *MailService) Restore(ctx context.Context, userID, messageID string) (*models.Message, error) {
	return s.setDeleted(ctx, userID, messageID, false)
}

func (s *MailService) setDeleted(ctx context.Context, userID, messageID string, deleted bool) (*models.Message, error) {
	msg, err := s.getVisible(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Messages(tx)
		if msg.IsSender(userID) {
			if err := repo.SetSenderDeleted(ctx, messageID, deleted); err != nil {
				return fmt.Errorf("error updating message: %w", err)
			}
			msg.IsDeletedBySender = deleted
		}
		if msg.IsRecipient(userID) {
			if err := repo.SetRecipientDeleted(ctx, messageID, deleted); err != nil {
				return fmt.Errorf("error updating message: %w", err)
			}
			msg.IsDeletedByRecipient = deleted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// PermanentDelete removes the message row once it is in the user's trash
// and either both parties deleted it or the other party no longer exists.
// Linked attachments stay; only the links go.
func (s *MailService) PermanentDelete(ctx context.Context, userID, messageID string) error {
	msg, err := s.getVisible(ctx, userID, messageID)
	if err != nil {
		return err
	}
	if !canPurge(msg, userID) {
		return fmt.Errorf("%w: message must be deleted by both parties first", common.ErrRejected)
	}

	if err := s.repomanager.Messages(s.db).Delete(ctx, messageID); err != nil {
		return fmt.Errorf("error deleting message: %w", err)
	}
	s.logger.Info(ctx, "message purged", "message_id", messageID, "user_id", userID)
	return nil
}

func canPurge(m *models.Message, userID string) bool {
	if !m.InTrashOf(userID) {
		return false
	}
	if m.IsDeletedBySender && m.IsDeletedByRecipient {
		return true
	}
	if m.IsSender(userID) && m.ToUserID == nil {
		return true
	}
	return m.IsRecipient(userID) && m.FromUserID == nil
}

// Decrypt returns the plaintext of a message addressed to userID. The
// passphrase comes from the request or, when empty, from the user's
// session.
//
// Parameters:
//   - userID: the caller; only the recipient can decrypt.
//   - messageID: the message to open.
//   - passphrase: the caller's passphrase, or "" to use the active session.
//
// Returns:
//   - the plaintext; for an unencrypted message, its stored content.
//   - err: common.ErrSessionExpired when no passphrase is given and no
//     session is active, common.ErrDecryption when the key cannot be
//     unwrapped or the message cannot be decrypted.
func (s *MailService) Decrypt(ctx context.Context, userID, messageID, passphrase string) (string, error) {
	msg, err := s.getVisible(ctx, userID, messageID)
	if err != nil {
		return "", err
	}
	if !msg.IsRecipient(userID) {
		return "", fmt.Errorf("%w: only the recipient can decrypt", common.ErrRejected)
	}
	if !msg.IsEncrypted {
		return msg.Content, nil
	}

	rec, err := s.repomanager.Keys(s.db).GetByUserID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("error getting keys: %w", err)
	}

	if passphrase == "" {
		passphrase, err = s.sessions.Passphrase(ctx, userID)
		if err != nil {
			return "", err
		}
	}

	priv, err := cryptox.Unwrap(rec.PrivateKeyWrapped, passphrase)
	if err != nil {
		observeCrypto("decrypt", err)
		return "", err
	}
	defer common.WipeByteArray(priv)

	plain, err := s.engine.Decrypt(msg.Content, string(priv), passphrase)
	observeCrypto("decrypt", err)
	if err != nil {
		return "", err
	}
	return plain, nil
}
