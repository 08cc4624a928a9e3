package api

import (
	"time"

	"github.com/dmitrijs2005/securemail/internal/server/models"
	"github.com/dmitrijs2005/securemail/internal/server/services"
)

type keyRecordResponse struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	PublicKey           string     `json:"public_key"`
	PrivateKeyEncrypted string     `json:"private_key_encrypted"`
	HasActiveSession    bool       `json:"has_active_session"`
	SessionExpires      *time.Time `json:"session_expires,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func newKeyRecordResponse(k *models.KeyRecord, now time.Time) keyRecordResponse {
	resp := keyRecordResponse{
		ID:                  k.ID,
		UserID:              k.UserID,
		PublicKey:           k.PublicKey,
		PrivateKeyEncrypted: k.PrivateKeyWrapped,
		CreatedAt:           k.CreatedAt,
		UpdatedAt:           k.UpdatedAt,
	}
	if k.IsSessionValid(now) {
		resp.HasActiveSession = true
		resp.SessionExpires = k.SessionExpires
	}
	return resp
}

type generatedKeysResponse struct {
	PublicKey           string `json:"public_key"`
	PrivateKeyEncrypted string `json:"private_key_encrypted"`
}

func newGeneratedKeysResponse(g *services.GeneratedKeys) generatedKeysResponse {
	return generatedKeysResponse{PublicKey: g.PublicKey, PrivateKeyEncrypted: g.PrivateKeyEncrypted}
}

type publicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

type sessionResponse struct {
	Expires time.Time `json:"expires"`
}

type sessionStatusResponse struct {
	HasSession bool       `json:"has_session"`
	Expires    *time.Time `json:"expires"`
}

func newSessionStatusResponse(st services.SessionStatus) sessionStatusResponse {
	return sessionStatusResponse{HasSession: st.Active, Expires: st.Expires}
}

type attachmentResponse struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type"`
	FileURL     string    `json:"file_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func newAttachmentResponse(a *models.Attachment) attachmentResponse {
	return attachmentResponse{
		ID:          a.ID,
		Filename:    a.Filename,
		FileSize:    a.FileSize,
		ContentType: a.ContentType,
		CreatedAt:   a.CreatedAt,
	}
}

func newAttachmentList(list []*models.Attachment) []attachmentResponse {
	out := make([]attachmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, newAttachmentResponse(a))
	}
	return out
}

// userSummary is a message party as the mail client shows it.
type userSummary struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	MiddleName string `json:"middle_name"`
}

func newUserSummary(u *models.User) *userSummary {
	if u == nil {
		return nil
	}
	return &userSummary{
		ID:         u.ID,
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		MiddleName: u.MiddleName,
	}
}

// messageListItem is the folder listing shape. Content is omitted.
type messageListItem struct {
	ID             string       `json:"id"`
	FromUser       *userSummary `json:"from_user"`
	ToUser         *userSummary `json:"to_user"`
	FromUserID     *string      `json:"from_user_id"`
	ToUserID       *string      `json:"to_user_id"`
	Subject        string       `json:"subject"`
	IsEncrypted    bool         `json:"is_encrypted"`
	IsDraft        bool         `json:"is_draft"`
	HasAttachments bool         `json:"has_attachments"`
	CreatedAt      time.Time    `json:"created_at"`
}

func newMessageListItem(m *models.Message) messageListItem {
	return messageListItem{
		ID:             m.ID,
		FromUser:       newUserSummary(m.From),
		ToUser:         newUserSummary(m.To),
		FromUserID:     m.FromUserID,
		ToUserID:       m.ToUserID,
		Subject:        m.Subject,
		IsEncrypted:    m.IsEncrypted,
		IsDraft:        m.IsDraft,
		HasAttachments: m.HasAttachments(),
		CreatedAt:      m.CreatedAt,
	}
}

type messageDetail struct {
	ID                   string                  `json:"id"`
	FromUser             *userSummary            `json:"from_user"`
	ToUser               *userSummary            `json:"to_user"`
	FromUserID           *string                 `json:"from_user_id"`
	ToUserID             *string                 `json:"to_user_id"`
	Subject              string                  `json:"subject"`
	ContentEncrypted     string                  `json:"content_encrypted"`
	IsEncrypted          bool                    `json:"is_encrypted"`
	IsDraft              bool                    `json:"is_draft"`
	IsDeletedBySender    bool                    `json:"is_deleted_by_sender"`
	IsDeletedByRecipient bool                    `json:"is_deleted_by_recipient"`
	AttachmentsMeta      []models.AttachmentMeta `json:"attachments_meta"`
	Attachments          []attachmentResponse    `json:"attachments"`
	CreatedAt            time.Time               `json:"created_at"`
	UpdatedAt            time.Time               `json:"updated_at"`
}

func newMessageDetail(m *models.Message) messageDetail {
	meta := m.AttachmentsMeta
	if meta == nil {
		meta = []models.AttachmentMeta{}
	}
	return messageDetail{
		ID:                   m.ID,
		FromUser:             newUserSummary(m.From),
		ToUser:               newUserSummary(m.To),
		FromUserID:           m.FromUserID,
		ToUserID:             m.ToUserID,
		Subject:              m.Subject,
		ContentEncrypted:     m.Content,
		IsEncrypted:          m.IsEncrypted,
		IsDraft:              m.IsDraft,
		IsDeletedBySender:    m.IsDeletedBySender,
		IsDeletedByRecipient: m.IsDeletedByRecipient,
		AttachmentsMeta:      meta,
		Attachments:          newAttachmentList(m.Attachments),
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

type decryptResponse struct {
	Content string `json:"content"`
}

type linkResponse struct {
	Linked int64 `json:"linked"`
}

type healthResponse struct {
	Status string `json:"status"`
}
