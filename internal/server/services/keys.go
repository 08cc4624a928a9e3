package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dmitrijs2005/securemail/internal/common"
	"github.com/dmitrijs2005/securemail/internal/cryptox"
	"github.com/dmitrijs2005/securemail/internal/logging"
	"github.com/dmitrijs2005/securemail/internal/server/config"
	"github.com/dmitrijs2005/securemail/internal/server/models"
	"github.com/dmitrijs2005/securemail/internal/server/repositories/repomanager"
)

// GeneratedKeys is the result of a server-side key generation.
type GeneratedKeys struct {
	PublicKey           string
	PrivateKeyEncrypted string
	Record              *models.KeyRecord
}

// KeyService manages users' OpenPGP key records.
type KeyService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	engine      Engine
	keygen      *semaphore.Weighted
	logger      logging.Logger
}

// NewKeyService constructs a KeyService. At most cfg.KeygenWorkers key
// generations run at once.
func NewKeyService(db *sql.DB, m repomanager.RepositoryManager, engine Engine, cfg *config.Config, logger logging.Logger) *KeyService {
	workers := cfg.KeygenWorkers
	if workers < 1 {
		workers = 1
	}
	return &KeyService{
		db:          db,
		repomanager: m,
		engine:      engine,
		keygen:      semaphore.NewWeighted(int64(workers)),
		logger:      logger.With("module", "keys"),
	}
}

// Upsert stores a client-provided key pair, replacing any previous one and
// ending the user's session.
func (s *KeyService) Upsert(ctx context.Context, userID, publicKey, privateKeyWrapped string) (*models.KeyRecord, error) {
	if strings.TrimSpace(publicKey) == "" || strings.TrimSpace(privateKeyWrapped) == "" {
		return nil, fmt.Errorf("%w: public_key and private_key_encrypted are required", common.ErrorInvalidInput)
	}

	rec, err := s.repomanager.Keys(s.db).Upsert(ctx, userID, publicKey, privateKeyWrapped)
	if err != nil {
		return nil, fmt.Errorf("error saving keys: %w", err)
	}
	return rec, nil
}

// MyKeys returns the caller's key record or common.ErrorNotFound.
func (s *KeyService) MyKeys(ctx context.Context, userID string) (*models.KeyRecord, error) {
	rec, err := s.repomanager.Keys(s.db).GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting keys: %w", err)
	}
	return rec, nil
}

// PublicKey looks up a public key by exactly one of userID or email. An
// email is first resolved to its user, so both lookups end on the same
// key record query.
func (s *KeyService) PublicKey(ctx context.Context, userID, email string) (string, error) {
	switch {
	case userID != "" && email != "", userID == "" && email == "":
		return "", fmt.Errorf("%w: exactly one of user_id or email is required", common.ErrorInvalidInput)
	case userID != "":
		if _, err := uuid.Parse(userID); err != nil {
			return "", fmt.Errorf("%w: malformed user_id", common.ErrorInvalidInput)
		}
	default:
		user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
		if err != nil {
			return "", fmt.Errorf("error getting user: %w", err)
		}
		userID = user.ID
	}

	key, err := s.repomanager.Keys(s.db).GetPublicKeyByUserID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("error getting public key: %w", err)
	}
	return key, nil
}

// Generate creates a key pair for the user on the server, bound to the
// user's email, wraps the private half with passphrase and stores it.
func (s *KeyService) Generate(ctx context.Context, userID, passphrase string) (*GeneratedKeys, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: passphrase is required", common.ErrorInvalidInput)
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}

	start := time.Now()
	if err := s.keygen.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	pub, priv, err := s.engine.GenerateKeyPair(user.Email, passphrase)
	s.keygen.Release(1)
	keygenDuration.Observe(time.Since(start).Seconds())
	observeCrypto("generate", err)
	if err != nil {
		return nil, err
	}

	wrapped, err := cryptox.Wrap([]byte(priv), passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrKeyGeneration, err)
	}

	rec, err := s.repomanager.Keys(s.db).Upsert(ctx, userID, pub, wrapped)
	if err != nil {
		return nil, fmt.Errorf("error saving keys: %w", err)
	}

	s.logger.Info(ctx, "key pair generated", "user_id", userID, "took", time.Since(start).String())
	return &GeneratedKeys{PublicKey: pub, PrivateKeyEncrypted: wrapped, Record: rec}, nil
}
