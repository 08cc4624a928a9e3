package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/securemail/internal/common"
	"github.com/dmitrijs2005/securemail/internal/logging"
)

const (
	jwksClientTimeout   = 10 * time.Second
	jwksRefreshInterval = time.Hour
)

// JWKSVerifier checks RS256 tokens against the identity provider's JWKS.
type JWKSVerifier struct {
	jwks   keyfunc.Keyfunc
	issuer string
}

// NewJWKSVerifier starts a JWKS storage that refreshes in the background.
// The server starts even if the provider is not reachable yet.
func NewJWKSVerifier(jwksURL, issuer string, logger logging.Logger) (*JWKSVerifier, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: jwksClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(ctx context.Context, err error) {
			logger.Error(ctx, "jwks refresh failed", "url", jwksURL, "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("jwks keyfunc: %w", err)
	}
	return NewJWKSVerifierWithKeyfunc(k, issuer), nil
}

// NewJWKSVerifierWithKeyfunc builds a verifier from a ready keyfunc.
func NewJWKSVerifierWithKeyfunc(kf keyfunc.Keyfunc, issuer string) *JWKSVerifier {
	return &JWKSVerifier{jwks: kf, issuer: issuer}
}

func (v *JWKSVerifier) UserID(ctx context.Context, tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.KeyfuncCtx(ctx), opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", common.ErrInvalidToken
	}

	userID := claims.ResolvedUserID()
	if userID == "" {
		return "", fmt.Errorf("%w: no sub", common.ErrInvalidToken)
	}
	return userID, nil
}
