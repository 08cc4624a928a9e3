package models

import "time"

// KeyRecord is a user's OpenPGP key pair plus decryption session state.
// Session columns are either all set or all empty.
type KeyRecord struct {
	ID     string
	UserID string

	// PublicKey is the ASCII-armored public key.
	PublicKey string
	// PrivateKeyWrapped is base64(IV || AES-CBC ciphertext) of the armored,
	// passphrase-protected private key.
	PrivateKeyWrapped string

	SessionKey     *string
	SessionExpires *time.Time
	// SessionSecret is the passphrase sealed under a key derived from SessionKey.
	SessionSecret *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsSessionValid reports whether a session exists and has not expired at now.
func (k *KeyRecord) IsSessionValid(now time.Time) bool {
	return k.SessionKey != nil && k.SessionExpires != nil && k.SessionExpires.After(now)
}
