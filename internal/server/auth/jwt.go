// Package auth verifies bearer tokens issued by the firm's identity service
// and carries the authenticated user id through request contexts.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/securemail/internal/common"
)

// Claims are the standard claims plus the identity service's UserID claim.
// Tokens without UserID fall back to sub.
type Claims struct {
	jwt.RegisteredClaims
	UserID string
}

// ResolvedUserID returns the user id carried by the claims.
func (c *Claims) ResolvedUserID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// Verifier turns a raw bearer token into a user id.
type Verifier interface {
	UserID(ctx context.Context, token string) (string, error)
}

// GenerateToken signs an HS256 token for userID. The mail server never
// issues tokens itself; this exists for local tooling and tests.
func GenerateToken(userID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID: userID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// HMACVerifier checks HS256 tokens against a shared secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret []byte) *HMACVerifier {
	return &HMACVerifier{secret: secret}
}

func (v *HMACVerifier) UserID(_ context.Context, tokenString string) (string, error) {
	return GetUserIDFromToken(tokenString, v.secret)
}

// GetUserIDFromToken validates an HS256 token and returns its user id.
// Every failure, expiry included, is reported as common.ErrInvalidToken.
func GetUserIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", common.ErrInvalidToken
	}

	userID := claims.ResolvedUserID()
	if userID == "" {
		return "", fmt.Errorf("%w: no user id", common.ErrInvalidToken)
	}
	return userID, nil
}
