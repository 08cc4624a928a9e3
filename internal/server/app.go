// Package server wires the mail server together: configuration, database and
// migrations, the blob store, the OpenPGP engine, services and the HTTP API,
// and runs it until a termination signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/securemail/internal/cryptox"
	"github.com/dmitrijs2005/securemail/internal/logging"
	"github.com/dmitrijs2005/securemail/internal/server/api"
	"github.com/dmitrijs2005/securemail/internal/server/auth"
	"github.com/dmitrijs2005/securemail/internal/server/blobstore"
	"github.com/dmitrijs2005/securemail/internal/server/config"
	"github.com/dmitrijs2005/securemail/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/securemail/internal/server/services"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	server *api.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}

	blobs, err := blobstore.NewS3Store(ctx, c)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	verifier, err := newVerifier(c, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("auth init error: %w", err)
	}

	engine := cryptox.NewEngine(cryptox.EngineConfig{KeyBits: c.KeyBits})

	ks := services.NewKeyService(db, m, engine, c, logger)
	ss := services.NewSessionService(db, m, engine, c, logger)
	ms := services.NewMailService(db, m, engine, ss, c, logger)
	as := services.NewAttachmentService(db, m, blobs, logger)

	srv := api.NewServer(c, logger, verifier, api.Services{
		Keys:        ks,
		Sessions:    ss,
		Mail:        ms,
		Attachments: as,
	}, db)

	return &App{config: c, logger: logger, db: db, server: srv}, nil
}

// newVerifier prefers JWKS when a URL is configured and falls back to the
// shared HMAC secret.
func newVerifier(c *config.Config, logger logging.Logger) (auth.Verifier, error) {
	if c.JWKSURL != "" {
		v, err := auth.NewJWKSVerifier(c.JWKSURL, c.JWTIssuer, logger)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	return auth.NewHMACVerifier([]byte(c.SecretKey)), nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, "http server stopped", "error", err)
		cancelFunc()
	}
}

// Run blocks until ctx is cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "key_bits", app.config.KeyBits, "recipient_policy", app.config.RecipientPolicy)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing database", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
