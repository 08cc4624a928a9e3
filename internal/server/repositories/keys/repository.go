// Package keys persists one OpenPGP key record per user together with the
// user's decryption session state.
package keys

import (
	"context"
	"time"

	"github.com/dmitrijs2005/securemail/internal/server/models"
)

type Repository interface {
	// Upsert creates or replaces the user's key pair and clears any session.
	Upsert(ctx context.Context, userID, publicKey, privateKeyWrapped string) (*models.KeyRecord, error)
	GetByUserID(ctx context.Context, userID string) (*models.KeyRecord, error)
	GetPublicKeyByUserID(ctx context.Context, userID string) (string, error)
	SetSession(ctx context.Context, userID, sessionKey, sessionSecret string, expires time.Time) error
	ClearSession(ctx context.Context, userID string) error
}
