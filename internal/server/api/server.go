// Package api exposes the mail services over a JSON REST interface.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/securemail/internal/logging"
	"github.com/dmitrijs2005/securemail/internal/server/auth"
	"github.com/dmitrijs2005/securemail/internal/server/config"
	"github.com/dmitrijs2005/securemail/internal/server/models"
	"github.com/dmitrijs2005/securemail/internal/server/services"
)

// KeyService is implemented by *services.KeyService.
type KeyService interface {
	Upsert(ctx context.Context, userID, publicKey, privateKeyWrapped string) (*models.KeyRecord, error)
	MyKeys(ctx context.Context, userID string) (*models.KeyRecord, error)
	PublicKey(ctx context.Context, userID, email string) (string, error)
	Generate(ctx context.Context, userID, passphrase string) (*services.GeneratedKeys, error)
}

// SessionService is implemented by *services.SessionService.
type SessionService interface {
	CreateSession(ctx context.Context, userID, passphrase string) (time.Time, error)
	EndSession(ctx context.Context, userID string) error
	Status(ctx context.Context, userID string) (services.SessionStatus, error)
}

// MailService is implemented by *services.MailService.
type MailService interface {
	Send(ctx context.Context, fromUserID string, req services.SendRequest) (*models.Message, error)
	UpdateDraft(ctx context.Context, userID, messageID string, req services.SendRequest) (*models.Message, error)
	ListFolder(ctx context.Context, userID string, folder models.Folder) ([]*models.Message, error)
	Get(ctx context.Context, userID, messageID string) (*models.Message, error)
	SoftDelete(ctx context.Context, userID, messageID string) (*models.Message, error)
	Restore(ctx context.Context, userID, messageID string) (*models.Message, error)
	PermanentDelete(ctx context.Context, userID, messageID string) error
	Decrypt(ctx context.Context, userID, messageID, passphrase string) (string, error)
}

// AttachmentService is implemented by *services.AttachmentService.
type AttachmentService interface {
	Upload(ctx context.Context, userID string, f services.UploadFile) (*models.Attachment, error)
	UploadMultiple(ctx context.Context, userID string, files []services.UploadFile) ([]*models.Attachment, error)
	Get(ctx context.Context, id string) (*models.Attachment, string, error)
	Fetch(ctx context.Context, id string) (*models.Attachment, io.ReadCloser, error)
	Delete(ctx context.Context, userID, id string) error
	Link(ctx context.Context, userID, messageID string, ids []string) (int64, error)
	Unlink(ctx context.Context, userID, messageID, attachmentID string) error
}

// Pinger reports whether a dependency is reachable. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Services groups the business services behind the API.
type Services struct {
	Keys        KeyService
	Sessions    SessionService
	Mail        MailService
	Attachments AttachmentService
}

// Server is the mail HTTP server.
type Server struct {
	address         string
	maxUploadSize   int64
	shutdownTimeout time.Duration
	keys            KeyService
	sessions        SessionService
	mail            MailService
	attachments     AttachmentService
	verifier        auth.Verifier
	db              Pinger
	now             func() time.Time
	logger          logging.Logger
	handler         http.Handler
}

// NewServer builds the router for svc. db may be nil, in which case the
// readiness probe reports ok.
func NewServer(cfg *config.Config, logger logging.Logger, verifier auth.Verifier, svc Services, db Pinger) *Server {
	s := &Server{
		address:         cfg.EndpointAddrHTTP,
		maxUploadSize:   cfg.MaxUploadSize,
		shutdownTimeout: cfg.ShutdownTimeout,
		keys:            svc.Keys,
		sessions:        svc.Sessions,
		mail:            svc.Mail,
		attachments:     svc.Attachments,
		verifier:        verifier,
		db:              db,
		now:             time.Now,
		logger:          logger.With("module", "http_server"),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(RequestLogger(s.logger))
	r.Use(Metrics)

	r.Get("/health", s.health)
	r.Get("/health/live", s.health)
	r.Get("/health/ready", s.ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/mail", func(r chi.Router) {
		r.Use(Authenticate(s.verifier))

		r.Route("/pgp-keys", func(r chi.Router) {
			r.Post("/", s.upsertKeys)
			r.Post("/generate", s.generateKeys)
			r.Get("/my_keys", s.myKeys)
			r.Get("/public_key", s.publicKey)
			r.Post("/create_session", s.createSession)
			r.Post("/end_session", s.endSession)
			r.Get("/session_status", s.sessionStatus)
		})

		r.Route("/attachments", func(r chi.Router) {
			r.Post("/", s.uploadAttachment)
			r.Post("/upload_multiple", s.uploadAttachments)
			r.Get("/{id}", s.getAttachment)
			r.Get("/{id}/download", s.downloadAttachment)
			r.Delete("/{id}", s.deleteAttachment)
		})

		// Folder and message routes share the /api/mail root; the static
		// segments above and below win over {id}.
		r.Post("/", s.sendMessage)
		r.Get("/", s.listFolder(models.FolderAll))
		r.Get("/inbox", s.listFolder(models.FolderInbox))
		r.Get("/sent", s.listFolder(models.FolderSent))
		r.Get("/drafts", s.listFolder(models.FolderDrafts))
		r.Get("/trash", s.listFolder(models.FolderTrash))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getMessage)
			r.Put("/", s.updateDraft)
			r.Delete("/", s.deleteMessage)
			r.Post("/restore", s.restoreMessage)
			r.Post("/permanent_delete", s.permanentDelete)
			r.Post("/decrypt", s.decryptMessage)
			r.Post("/attachments", s.linkAttachments)
			r.Delete("/attachments/{attachmentID}", s.unlinkAttachment)
		})
	})

	return r
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		done <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return <-done
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			s.logger.Warn(r.Context(), "readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "fail"})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
