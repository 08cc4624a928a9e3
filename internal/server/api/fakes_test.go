package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/securemail/internal/common"
	"github.com/dmitrijs2005/securemail/internal/logging"
	"github.com/dmitrijs2005/securemail/internal/server/config"
	"github.com/dmitrijs2005/securemail/internal/server/models"
	"github.com/dmitrijs2005/securemail/internal/server/services"
)

const (
	aliceID    = "11111111-1111-1111-1111-111111111111"
	bobID      = "22222222-2222-2222-2222-222222222222"
	aliceToken = "alice-token"
	bobToken   = "bob-token"
	messageID  = "33333333-3333-3333-3333-333333333333"
	attachID   = "44444444-4444-4444-4444-444444444444"
)

type stubVerifier map[string]string

func (v stubVerifier) UserID(_ context.Context, token string) (string, error) {
	id, ok := v[token]
	if !ok {
		return "", common.ErrInvalidToken
	}
	return id, nil
}

type fakeKeys struct {
	rec       *models.KeyRecord
	generated *services.GeneratedKeys
	err       error

	gotUserID, gotEmail, gotPassphrase string
}

func (f *fakeKeys) Upsert(_ context.Context, userID, pub, wrapped string) (*models.KeyRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.KeyRecord{ID: "k1", UserID: userID, PublicKey: pub, PrivateKeyWrapped: wrapped}, nil
}

func (f *fakeKeys) MyKeys(_ context.Context, userID string) (*models.KeyRecord, error) {
	f.gotUserID = userID
	return f.rec, f.err
}

func (f *fakeKeys) PublicKey(_ context.Context, userID, email string) (string, error) {
	f.gotUserID, f.gotEmail = userID, email
	if f.err != nil {
		return "", f.err
	}
	return "PUB", nil
}

func (f *fakeKeys) Generate(_ context.Context, userID, passphrase string) (*services.GeneratedKeys, error) {
	f.gotUserID, f.gotPassphrase = userID, passphrase
	return f.generated, f.err
}

type fakeSessions struct {
	expires time.Time
	status  services.SessionStatus
	err     error
	ended   []string
}

func (f *fakeSessions) CreateSession(_ context.Context, _, passphrase string) (time.Time, error) {
	if passphrase == "" {
		return time.Time{}, common.ErrorInvalidInput
	}
	return f.expires, f.err
}

func (f *fakeSessions) EndSession(_ context.Context, userID string) error {
	f.ended = append(f.ended, userID)
	return f.err
}

func (f *fakeSessions) Status(context.Context, string) (services.SessionStatus, error) {
	return f.status, f.err
}

type fakeMail struct {
	msg    *models.Message
	list   []*models.Message
	plain  string
	err    error
	folder models.Folder
	sent   services.SendRequest
	calls  []string
}

func (f *fakeMail) record(call string) { f.calls = append(f.calls, call) }

func (f *fakeMail) Send(_ context.Context, _ string, req services.SendRequest) (*models.Message, error) {
	f.record("send")
	f.sent = req
	return f.msg, f.err
}

func (f *fakeMail) UpdateDraft(_ context.Context, _, id string, req services.SendRequest) (*models.Message, error) {
	f.record("update:" + id)
	f.sent = req
	return f.msg, f.err
}

func (f *fakeMail) ListFolder(_ context.Context, _ string, folder models.Folder) ([]*models.Message, error) {
	f.folder = folder
	return f.list, f.err
}

func (f *fakeMail) Get(_ context.Context, _, id string) (*models.Message, error) {
	f.record("get:" + id)
	return f.msg, f.err
}

func (f *fakeMail) SoftDelete(_ context.Context, _, id string) (*models.Message, error) {
	f.record("delete:" + id)
	return f.msg, f.err
}

func (f *fakeMail) Restore(_ context.Context, _, id string) (*models.Message, error) {
	f.record("restore:" + id)
	return f.msg, f.err
}

func (f *fakeMail) PermanentDelete(_ context.Context, _, id string) error {
	f.record("purge:" + id)
	return f.err
}

func (f *fakeMail) Decrypt(_ context.Context, _, id, passphrase string) (string, error) {
	f.record("decrypt:" + id + ":" + passphrase)
	return f.plain, f.err
}

type fakeAttachments struct {
	att      *models.Attachment
	content  string
	url      string
	err      error
	uploaded []services.UploadFile
	bodies   []string
	linked   []string
	calls    []string
}

func (f *fakeAttachments) read(files ...services.UploadFile) {
	for _, file := range files {
		b, _ := io.ReadAll(file.Body)
		f.bodies = append(f.bodies, string(b))
		f.uploaded = append(f.uploaded, file)
	}
}

func (f *fakeAttachments) Upload(_ context.Context, _ string, file services.UploadFile) (*models.Attachment, error) {
	f.read(file)
	return f.att, f.err
}

func (f *fakeAttachments) UploadMultiple(_ context.Context, _ string, files []services.UploadFile) ([]*models.Attachment, error) {
	f.read(files...)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*models.Attachment, len(files))
	for i := range files {
		out[i] = f.att
	}
	return out, nil
}

func (f *fakeAttachments) Get(context.Context, string) (*models.Attachment, string, error) {
	return f.att, f.url, f.err
}

func (f *fakeAttachments) Fetch(context.Context, string) (*models.Attachment, io.ReadCloser, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.att, io.NopCloser(bytes.NewBufferString(f.content)), nil
}

func (f *fakeAttachments) Delete(_ context.Context, userID, id string) error {
	f.calls = append(f.calls, "delete:"+userID+":"+id)
	return f.err
}

func (f *fakeAttachments) Link(_ context.Context, _, messageID string, ids []string) (int64, error) {
	f.calls = append(f.calls, "link:"+messageID)
	f.linked = ids
	return int64(len(ids)), f.err
}

func (f *fakeAttachments) Unlink(_ context.Context, _, messageID, attachmentID string) error {
	f.calls = append(f.calls, "unlink:"+messageID+":"+attachmentID)
	return f.err
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type fixture struct {
	keys        *fakeKeys
	sessions    *fakeSessions
	mail        *fakeMail
	attachments *fakeAttachments
	server      *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		keys:        &fakeKeys{},
		sessions:    &fakeSessions{},
		mail:        &fakeMail{},
		attachments: &fakeAttachments{},
	}
	cfg := &config.Config{EndpointAddrHTTP: "127.0.0.1:0", MaxUploadSize: 1 << 20, ShutdownTimeout: time.Second}
	f.server = NewServer(cfg, logging.NewNopLogger(), stubVerifier{aliceToken: aliceID, bobToken: bobID},
		Services{Keys: f.keys, Sessions: f.sessions, Mail: f.mail, Attachments: f.attachments}, fakePinger{})
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) doJSON(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	return f.do(t, method, path, aliceToken, r, "application/json")
}

func requireErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	var body errorResponse
	require.NoError(t, decodeBody(rec, &body))
	require.Equal(t, code, body.Error.Code)
}

func decodeBody(rec *httptest.ResponseRecorder, v any) error {
	if rec.Header().Get("Content-Type") != "application/json" {
		return errors.New("response is not JSON: " + rec.Header().Get("Content-Type"))
	}
	return json.Unmarshal(rec.Body.Bytes(), v)
}
