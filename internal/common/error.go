// Package common defines shared constants and sentinel errors used across
// the mail server layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorUnauthorized = errors.New("unauthorized")

	// Validation errors: malformed ids, empty passphrases, unknown folders.
	ErrorInvalidInput = errors.New("invalid input")

	// Crypto errors. The cause of a failed decryption is never distinguished.
	ErrDecryption    = errors.New("decryption failed")
	ErrEncryption    = errors.New("encryption failed")
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrRejected is returned when an operation is valid but not allowed in the
	// current state (permanent delete without mutual consent, deleting a linked
	// attachment, editing a sent message).
	ErrRejected = errors.New("operation rejected")

	// ErrSessionExpired means no passphrase was supplied and no active
	// decryption session exists.
	ErrSessionExpired = errors.New("no active session")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
)
