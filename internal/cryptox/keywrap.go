// Package cryptox holds the cryptographic primitives of the mail server:
// passphrase wrapping of private keys, session secret derivation, and the
// OpenPGP engine used to generate key pairs and encrypt message bodies.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"io"

	"github.com/dmitrijs2005/securemail/internal/common"
	"golang.org/x/crypto/hkdf"
)

// minPayload is the smallest padded payload: a digest plus one padding block.
const minPayload = sha256.Size + aes.BlockSize

// randReader is swapped in tests to simulate entropy failures.
var randReader io.Reader = rand.Reader

// WrapKey derives the symmetric wrapping key from a passphrase.
// The derivation is a single unsalted SHA-256, so the same passphrase
// always yields the same key.
func WrapKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

// Wrap encrypts plaintext under SHA-256(passphrase) with AES-256-CBC and
// PKCS#7 padding. The result is base64(IV || ciphertext) with a fresh IV
// per call, so wrapping the same input twice gives different blobs.
//
// The encrypted payload is SHA-256(plaintext) || plaintext. CBC carries no
// integrity of its own, and roughly one wrong key in 256 still yields valid
// padding; the digest turns those into errors too.
//
// Parameters:
//   - plaintext: bytes to protect, usually an armored private key.
//   - passphrase: the owner's passphrase.
//
// Returns:
//   - the base64 blob.
//   - err: non-nil only if the random source fails.
//
// Example:
//
//	blob, err := cryptox.Wrap([]byte(armoredKey), passphrase)
//	if err != nil {
//	    return err
//	}
//	plain, err := cryptox.Unwrap(blob, passphrase)
func Wrap(plaintext []byte, passphrase string) (string, error) {
	key := WrapKey(passphrase)
	defer common.WipeByteArray(key)
	return SealWithKey(plaintext, key)
}

// Unwrap reverses Wrap. Every failure yields common.ErrDecryption, whether
// the blob is not base64, is truncated, has bad padding or fails the digest
// check, so callers cannot tell a wrong passphrase from a damaged blob.
func Unwrap(blob string, passphrase string) ([]byte, error) {
	key := WrapKey(passphrase)
	defer common.WipeByteArray(key)
	return OpenWithKey(blob, key)
}

// SealWithKey is Wrap with an explicit 32-byte key.
func SealWithKey(plaintext, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(randReader, iv); err != nil {
		return "", err
	}

	sum := sha256.Sum256(plaintext)
	payload := append(sum[:], plaintext...)
	defer common.WipeByteArray(payload)

	padded := pkcs7Pad(payload, aes.BlockSize)
	defer common.WipeByteArray(padded)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// OpenWithKey is Unwrap with an explicit 32-byte key.
func OpenWithKey(blob string, key []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, common.ErrDecryption
	}
	if len(raw) < aes.BlockSize+minPayload || len(raw)%aes.BlockSize != 0 {
		return nil, common.ErrDecryption
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, common.ErrDecryption
	}

	iv, ct := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(ct))
	defer common.WipeByteArray(plain)
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	payload, ok := pkcs7Unpad(plain, aes.BlockSize)
	if !ok || len(payload) < sha256.Size {
		return nil, common.ErrDecryption
	}

	digest, out := payload[:sha256.Size], payload[sha256.Size:]
	sum := sha256.Sum256(out)
	if subtle.ConstantTimeCompare(digest, sum[:]) != 1 {
		return nil, common.ErrDecryption
	}
	return bytes.Clone(out), nil
}

// DeriveSessionKey expands a session token into a 32-byte key bound to the
// user it was issued for.
func DeriveSessionKey(sessionToken, userID string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(sessionToken), []byte(userID), []byte("securemail session secret"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, bool) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, false
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
