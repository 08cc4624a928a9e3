package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestKeyRecord_IsSessionValid(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Second)

	tests := []struct {
		name string
		rec  KeyRecord
		want bool
	}{
		{"no session", KeyRecord{}, false},
		{"active", KeyRecord{SessionKey: strPtr("k"), SessionExpires: &future}, true},
		{"expired", KeyRecord{SessionKey: strPtr("k"), SessionExpires: &past}, false},
		{"expires exactly now", KeyRecord{SessionKey: strPtr("k"), SessionExpires: &now}, false},
		{"key without expiry", KeyRecord{SessionKey: strPtr("k")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.IsSessionValid(now))
		})
	}
}

func TestMessage_Parties(t *testing.T) {
	m := &Message{FromUserID: strPtr("a"), ToUserID: strPtr("b")}

	assert.True(t, m.IsSender("a"))
	assert.False(t, m.IsSender("b"))
	assert.True(t, m.IsRecipient("b"))
	assert.True(t, m.IsParty("a"))
	assert.True(t, m.IsParty("b"))
	assert.False(t, m.IsParty("c"))

	orphan := &Message{ToUserID: strPtr("b")}
	assert.False(t, orphan.IsSender("a"))
	assert.True(t, orphan.IsParty("b"))
}

func TestMessage_InTrashOf(t *testing.T) {
	m := &Message{FromUserID: strPtr("a"), ToUserID: strPtr("b"), IsDeletedBySender: true}

	assert.True(t, m.InTrashOf("a"))
	assert.False(t, m.InTrashOf("b"))

	self := &Message{FromUserID: strPtr("a"), ToUserID: strPtr("a"), IsDeletedByRecipient: true}
	assert.True(t, self.InTrashOf("a"))
}

func TestMessage_HasAttachments(t *testing.T) {
	assert.False(t, (&Message{}).HasAttachments())
	assert.True(t, (&Message{LinkedAttachments: 1}).HasAttachments())
	assert.True(t, (&Message{AttachmentsMeta: []AttachmentMeta{{ID: "x"}}}).HasAttachments())
	assert.True(t, (&Message{Attachments: []*Attachment{{ID: "x"}}}).HasAttachments())
}

func TestMessage_AttachmentIDs(t *testing.T) {
	m := &Message{AttachmentsMeta: []AttachmentMeta{{ID: "1"}, {Filename: "no-id.pdf"}, {ID: "2"}}}
	assert.Equal(t, []string{"1", "2"}, m.AttachmentIDs())
}

func TestFolder_Valid(t *testing.T) {
	for _, f := range []Folder{FolderAll, FolderInbox, FolderSent, FolderDrafts, FolderTrash} {
		assert.True(t, f.Valid(), f)
	}
	assert.False(t, Folder("archive").Valid())
}
