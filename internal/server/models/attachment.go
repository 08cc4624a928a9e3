package models

import "time"

// Attachment describes a file stored in the blob store. The bytes live
// under StorageKey; the row only carries metadata.
type Attachment struct {
	ID          string
	Filename    string
	FileSize    int64
	ContentType string
	StorageKey  string
	UploadedBy  *string
	CreatedAt   time.Time
}
