package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/securemail/internal/common"
	"github.com/dmitrijs2005/securemail/internal/cryptox"
	"github.com/dmitrijs2005/securemail/internal/logging"
	"github.com/dmitrijs2005/securemail/internal/server/config"
	"github.com/dmitrijs2005/securemail/internal/server/repositories/repomanager"
)

const sessionTokenSize = 32

// SessionStatus describes the caller's decryption session.
type SessionStatus struct {
	Active  bool
	Expires *time.Time
}

// SessionService lets a user unlock their private key once for a limited
// time instead of sending the passphrase with every decryption. The
// passphrase is kept in the key record, sealed under a key derived from the
// session token; nothing is held in process memory.
type SessionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	engine      Engine
	ttl         time.Duration
	verify      bool
	now         func() time.Time
	logger      logging.Logger
}

func NewSessionService(db *sql.DB, m repomanager.RepositoryManager, engine Engine, cfg *config.Config, logger logging.Logger) *SessionService {
	return &SessionService{
		db:          db,
		repomanager: m,
		engine:      engine,
		ttl:         cfg.SessionTTL,
		verify:      cfg.VerifySessionPassphrase,
		now:         time.Now,
		logger:      logger.With("module", "sessions"),
	}
}

// CreateSession starts a session for userID and returns its expiry. With
// VerifySessionPassphrase off a wrong passphrase is only noticed at the
// first decryption.
func (s *SessionService) CreateSession(ctx context.Context, userID, passphrase string) (time.Time, error) {
	if passphrase == "" {
		return time.Time{}, fmt.Errorf("%w: passphrase is required", common.ErrorInvalidInput)
	}

	repo := s.repomanager.Keys(s.db)
	rec, err := repo.GetByUserID(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("error getting keys: %w", err)
	}

	if s.verify {
		if err := s.checkPassphrase(rec.PrivateKeyWrapped, passphrase); err != nil {
			return time.Time{}, err
		}
	}

	token, err := common.MakeRandHexString(sessionTokenSize)
	if err != nil {
		return time.Time{}, fmt.Errorf("session token: %w", err)
	}
	key, err := cryptox.DeriveSessionKey(token, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("session key: %w", err)
	}
	defer common.WipeByteArray(key)

	secret, err := cryptox.SealWithKey([]byte(passphrase), key)
	if err != nil {
		return time.Time{}, fmt.Errorf("session secret: %w", err)
	}

	expires := s.now().Add(s.ttl)
	if err := repo.SetSession(ctx, userID, token, secret, expires); err != nil {
		return time.Time{}, fmt.Errorf("error saving session: %w", err)
	}

	s.logger.Info(ctx, "session created", "user_id", userID, "expires", expires)
	return expires, nil
}

func (s *SessionService) checkPassphrase(wrapped, passphrase string) error {
	priv, err := cryptox.Unwrap(wrapped, passphrase)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(priv)
	return s.engine.VerifyPassphrase(string(priv), passphrase)
}

// EndSession clears the session. Ending twice is fine.
func (s *SessionService) EndSession(ctx context.Context, userID string) error {
	if err := s.repomanager.Keys(s.db).ClearSession(ctx, userID); err != nil {
		return fmt.Errorf("error ending session: %w", err)
	}
	return nil
}

// Status reports whether the user has a live session. A user without keys
// simply has none.
func (s *SessionService) Status(ctx context.Context, userID string) (SessionStatus, error) {
	rec, err := s.repomanager.Keys(s.db).GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return SessionStatus{}, nil
		}
		return SessionStatus{}, fmt.Errorf("error getting keys: %w", err)
	}
	if !rec.IsSessionValid(s.now()) {
		return SessionStatus{}, nil
	}
	return SessionStatus{Active: true, Expires: rec.SessionExpires}, nil
}

// Passphrase recovers the passphrase stored with an active session.
func (s *SessionService) Passphrase(ctx context.Context, userID string) (string, error) {
	rec, err := s.repomanager.Keys(s.db).GetByUserID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("error getting keys: %w", err)
	}
	if !rec.IsSessionValid(s.now()) || rec.SessionSecret == nil {
		return "", common.ErrSessionExpired
	}

	key, err := cryptox.DeriveSessionKey(*rec.SessionKey, userID)
	if err != nil {
		return "", fmt.Errorf("session key: %w", err)
	}
	defer common.WipeByteArray(key)

	plain, err := cryptox.OpenWithKey(*rec.SessionSecret, key)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
