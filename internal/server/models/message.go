package models

import "time"

// Folder names a projection of the message table for one user.
type Folder string

const (
	FolderAll    Folder = ""
	FolderInbox  Folder = "inbox"
	FolderSent   Folder = "sent"
	FolderDrafts Folder = "drafts"
	FolderTrash  Folder = "trash"
)

// Valid reports whether f is a known folder.
func (f Folder) Valid() bool {
	switch f {
	case FolderAll, FolderInbox, FolderSent, FolderDrafts, FolderTrash:
		return true
	}
	return false
}

// AttachmentMeta is the client-supplied description of an attachment
// embedded in a message at send time.
type AttachmentMeta struct {
	ID          string `json:"id"`
	Filename    string `json:"filename,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Message is one mail item shared by its sender and recipient. FromUserID
// and ToUserID are nil when the referenced user no longer exists.
type Message struct {
	ID                   string
	FromUserID           *string
	ToUserID             *string
	Subject              string
	Content              string
	IsEncrypted          bool
	IsDraft              bool
	IsDeletedBySender    bool
	IsDeletedByRecipient bool
	AttachmentsMeta      []AttachmentMeta
	CreatedAt            time.Time
	UpdatedAt            time.Time

	// From and To are the parties' directory entries when loaded.
	From *User
	To   *User

	// Attachments holds linked attachment rows when loaded.
	Attachments []*Attachment
	// LinkedAttachments is the number of linked rows, filled by list queries.
	LinkedAttachments int
}

// IsSender reports whether userID sent m.
func (m *Message) IsSender(userID string) bool {
	return m.FromUserID != nil && *m.FromUserID == userID
}

// IsRecipient reports whether userID received m.
func (m *Message) IsRecipient(userID string) bool {
	return m.ToUserID != nil && *m.ToUserID == userID
}

// IsParty reports whether userID is the sender or the recipient.
func (m *Message) IsParty(userID string) bool {
	return m.IsSender(userID) || m.IsRecipient(userID)
}

// InTrashOf reports whether m sits in userID's trash.
func (m *Message) InTrashOf(userID string) bool {
	return (m.IsSender(userID) && m.IsDeletedBySender) ||
		(m.IsRecipient(userID) && m.IsDeletedByRecipient)
}

// HasAttachments reports whether m has linked attachments or metadata for them.
func (m *Message) HasAttachments() bool {
	return m.LinkedAttachments > 0 || len(m.Attachments) > 0 || len(m.AttachmentsMeta) > 0
}

// AttachmentIDs returns the ids listed in AttachmentsMeta.
func (m *Message) AttachmentIDs() []string {
	ids := make([]string, 0, len(m.AttachmentsMeta))
	for _, a := range m.AttachmentsMeta {
		if a.ID != "" {
			ids = append(ids, a.ID)
		}
	}
	return ids
}
