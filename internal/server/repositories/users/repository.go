// Package users reads the firm's user directory. The mail server never
// writes to it.
package users

import (
	"context"

	"github.com/dmitrijs2005/securemail/internal/server/models"
)

type Repository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}
