package services

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/securemail/internal/common"
	"github.com/dmitrijs2005/securemail/internal/dbx"
	"github.com/dmitrijs2005/securemail/internal/server/models"
	"github.com/dmitrijs2005/securemail/internal/server/repositories/attachments"
	"github.com/dmitrijs2005/securemail/internal/server/repositories/keys"
	"github.com/dmitrijs2005/securemail/internal/server/repositories/messages"
	"github.com/dmitrijs2005/securemail/internal/server/repositories/users"
)

// memStore backs the fake repositories below with plain maps.
type memStore struct {
	mu    sync.Mutex
	clock time.Time

	users       map[string]*models.User
	keys        map[string]*models.KeyRecord
	messages    map[string]*models.Message
	attachments map[string]*models.Attachment
	links       map[string]map[string]bool

	createMessageErr    error
	createAttachmentErr map[string]error
	setSessionErr       error
}

func newMemStore() *memStore {
	return &memStore{
		clock:               time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		users:               map[string]*models.User{},
		keys:                map[string]*models.KeyRecord{},
		messages:            map[string]*models.Message{},
		attachments:         map[string]*models.Attachment{},
		links:               map[string]map[string]bool{},
		createAttachmentErr: map[string]error{},
	}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) addUser(email string) string {
	id := uuid.NewString()
	s.users[id] = &models.User{ID: id, Email: email}
	return id
}

func (s *memStore) linked(messageID string) []string {
	var ids []string
	for id := range s.links[messageID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type memUsers struct{ s *memStore }

func (r memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (r memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

type memKeys struct{ s *memStore }

func (r memKeys) Upsert(_ context.Context, userID, pub, wrapped string) (*models.KeyRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.tick()
	rec, ok := r.s.keys[userID]
	if !ok {
		rec = &models.KeyRecord{ID: uuid.NewString(), UserID: userID, CreatedAt: now}
		r.s.keys[userID] = rec
	}
	rec.PublicKey = pub
	rec.PrivateKeyWrapped = wrapped
	rec.SessionKey, rec.SessionExpires, rec.SessionSecret = nil, nil, nil
	rec.UpdatedAt = now
	out := *rec
	return &out, nil
}

func (r memKeys) GetByUserID(_ context.Context, userID string) (*models.KeyRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.keys[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := *rec
	return &out, nil
}

func (r memKeys) GetPublicKeyByUserID(ctx context.Context, userID string) (string, error) {
	rec, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	return rec.PublicKey, nil
}

func (r memKeys) SetSession(_ context.Context, userID, key, secret string, expires time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.setSessionErr != nil {
		return r.s.setSessionErr
	}
	rec, ok := r.s.keys[userID]
	if !ok {
		return common.ErrorNotFound
	}
	rec.SessionKey, rec.SessionSecret, rec.SessionExpires = &key, &secret, &expires
	return nil
}

func (r memKeys) ClearSession(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.keys[userID]
	if !ok {
		return common.ErrorNotFound
	}
	rec.SessionKey, rec.SessionSecret, rec.SessionExpires = nil, nil, nil
	return nil
}

type memMessages struct{ s *memStore }

func (r memMessages) Create(_ context.Context, m *models.Message) (*models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.createMessageErr != nil {
		return nil, r.s.createMessageErr
	}
	m.ID = uuid.NewString()
	m.CreatedAt = r.s.tick()
	m.UpdatedAt = m.CreatedAt
	stored := *m
	r.s.messages[m.ID] = &stored
	return m, nil
}

func (r memMessages) UpdateDraft(_ context.Context, m *models.Message) (*models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.messages[m.ID]
	if !ok || !cur.IsDraft {
		return nil, common.ErrorNotFound
	}
	m.UpdatedAt = r.s.tick()
	stored := *m
	r.s.messages[m.ID] = &stored
	return m, nil
}

func (r memMessages) Get(_ context.Context, id string) (*models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return r.s.withParties(m), nil
}

// withParties copies m and resolves its parties like the users JOIN does.
// Callers hold s.mu.
func (s *memStore) withParties(m *models.Message) *models.Message {
	out := *m
	out.From, out.To = nil, nil
	if m.FromUserID != nil {
		out.From = s.users[*m.FromUserID]
	}
	if m.ToUserID != nil {
		out.To = s.users[*m.ToUserID]
	}
	return &out
}

func eq(p *string, v string) bool { return p != nil && *p == v }

func (r memMessages) ListFolder(_ context.Context, userID string, folder models.Folder) ([]*models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.Message
	for _, m := range r.s.messages {
		from, to := eq(m.FromUserID, userID), eq(m.ToUserID, userID)
		var in bool
		switch folder {
		case models.FolderAll:
			in = from || to
		case models.FolderInbox:
			in = to && !m.IsDraft && !m.IsDeletedByRecipient
		case models.FolderSent:
			in = from && !m.IsDraft && !m.IsDeletedBySender
		case models.FolderDrafts:
			in = from && m.IsDraft && !m.IsDeletedBySender
		case models.FolderTrash:
			in = (from && m.IsDeletedBySender) || (to && m.IsDeletedByRecipient)
		default:
			return nil, common.ErrorInvalidInput
		}
		if in {
			c := r.s.withParties(m)
			c.LinkedAttachments = len(r.s.links[m.ID])
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memMessages) setFlag(id string, set func(*models.Message)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[id]
	if !ok {
		return common.ErrorNotFound
	}
	set(m)
	return nil
}

func (r memMessages) SetSenderDeleted(_ context.Context, id string, deleted bool) error {
	return r.setFlag(id, func(m *models.Message) { m.IsDeletedBySender = deleted })
}

func (r memMessages) SetRecipientDeleted(_ context.Context, id string, deleted bool) error {
	return r.setFlag(id, func(m *models.Message) { m.IsDeletedByRecipient = deleted })
}

func (r memMessages) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.messages[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.messages, id)
	delete(r.s.links, id)
	return nil
}

type memAttachments struct{ s *memStore }

func (r memAttachments) Create(_ context.Context, a *models.Attachment) (*models.Attachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.createAttachmentErr[a.Filename]; err != nil {
		return nil, err
	}
	a.ID = uuid.NewString()
	a.CreatedAt = r.s.tick()
	stored := *a
	r.s.attachments[a.ID] = &stored
	return a, nil
}

func (r memAttachments) Get(_ context.Context, id string) (*models.Attachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attachments[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	out := *a
	return &out, nil
}

func (r memAttachments) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.attachments[id]; !ok {
		return common.ErrorNotFound
	}
	for _, set := range r.s.links {
		if set[id] {
			return fmt.Errorf("%w: attachment is used by a message", common.ErrRejected)
		}
	}
	delete(r.s.attachments, id)
	return nil
}

func (r memAttachments) IsReferenced(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, set := range r.s.links {
		if set[id] {
			return true, nil
		}
	}
	return false, nil
}

func (r memAttachments) ListByMessage(_ context.Context, messageID string) ([]*models.Attachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Attachment
	for _, id := range r.s.linked(messageID) {
		a := *r.s.attachments[id]
		out = append(out, &a)
	}
	return out, nil
}

func (r memAttachments) link(messageID, attachmentID string) int64 {
	if _, ok := r.s.attachments[attachmentID]; !ok {
		return 0
	}
	if r.s.links[messageID] == nil {
		r.s.links[messageID] = map[string]bool{}
	}
	if r.s.links[messageID][attachmentID] {
		return 0
	}
	r.s.links[messageID][attachmentID] = true
	return 1
}

func (r memAttachments) Link(_ context.Context, messageID, attachmentID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.link(messageID, attachmentID), nil
}

func (r memAttachments) Unlink(_ context.Context, messageID, attachmentID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.links[messageID][attachmentID] {
		return common.ErrorNotFound
	}
	delete(r.s.links[messageID], attachmentID)
	return nil
}

func (r memAttachments) RepairLinks(_ context.Context, messageID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.messages[messageID]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, id := range m.AttachmentIDs() {
		n += r.link(messageID, id)
	}
	return n, nil
}

type memRepoManager struct{ s *memStore }

func (m memRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m memRepoManager) Users(dbx.DBTX) users.Repository              { return memUsers(m) }
func (m memRepoManager) Keys(dbx.DBTX) keys.Repository                { return memKeys(m) }
func (m memRepoManager) Messages(dbx.DBTX) messages.Repository        { return memMessages(m) }
func (m memRepoManager) Attachments(dbx.DBTX) attachments.Repository  { return memAttachments(m) }

// fakeEngine stands in for the OpenPGP engine where the real one would only
// slow tests down. Ciphertext is "enc(<key>):<content>".
type fakeEngine struct {
	mu        sync.Mutex
	generated int
	genErr    error
	encErr    error
	running   int
	peak      int
	hold      chan struct{}
}

func (f *fakeEngine) GenerateKeyPair(identity, passphrase string) (string, string, error) {
	f.mu.Lock()
	f.running++
	if f.running > f.peak {
		f.peak = f.running
	}
	f.mu.Unlock()

	if f.hold != nil {
		<-f.hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.running--
	if f.genErr != nil {
		return "", "", f.genErr
	}
	f.generated++
	return "pub:" + identity, "priv:" + identity + ":" + passphrase, nil
}

func (f *fakeEngine) Encrypt(content, pub string) (string, error) {
	if f.encErr != nil {
		return "", f.encErr
	}
	return fmt.Sprintf("enc(%s):%s", pub, content), nil
}

func (f *fakeEngine) Decrypt(ciphertext, priv, passphrase string) (string, error) {
	rest, ok := strings.CutPrefix(ciphertext, "enc(pub:")
	if !ok {
		return "", common.ErrDecryption
	}
	identity, content, ok := strings.Cut(rest, "):")
	if !ok || !strings.HasPrefix(priv, "priv:"+identity+":") {
		return "", common.ErrDecryption
	}
	if err := f.VerifyPassphrase(priv, passphrase); err != nil {
		return "", err
	}
	return content, nil
}

func (f *fakeEngine) VerifyPassphrase(priv, passphrase string) error {
	if passphrase == "" || !strings.HasSuffix(priv, ":"+passphrase) {
		return common.ErrDecryption
	}
	return nil
}

// memBlobs is an in-memory blobstore.Store.
type memBlobs struct {
	mu       sync.Mutex
	objects  map[string][]byte
	storeErr map[int]error
	calls    int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, storeErr: map[int]error{}}
}

func (b *memBlobs) Store(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if err := b.storeErr[b.calls]; err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.objects[key] = data
	return nil
}

func (b *memBlobs) Fetch(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBlobs) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://blobs.test/%s?ttl=%s", key, ttl), nil
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// newTxDB returns a sqlmock database that accepts any number of
// transactions, each either committed or rolled back.
func newTxDB(t *testing.T, txs ...bool) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	for _, commit := range txs {
		mock.ExpectBegin()
		if commit {
			mock.ExpectCommit()
		} else {
			mock.ExpectRollback()
		}
	}
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db
}
