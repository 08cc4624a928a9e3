package cryptox

import (
	"bytes"
	"crypto"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/dmitrijs2005/securemail/internal/common"
)

const (
	// DefaultKeyBits is the RSA modulus size for generated key pairs.
	DefaultKeyBits = 4096

	messageType = "PGP MESSAGE"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	// KeyBits is the RSA key size. Zero means DefaultKeyBits.
	KeyBits int
	// Now overrides the clock used for key creation time.
	Now func() time.Time
}

// Engine performs OpenPGP operations. It keeps no keyring between calls:
// every operation parses the armored keys it is given, so one Engine can be
// shared by concurrent requests.
type Engine struct {
	config *packet.Config
}

// NewEngine constructs an Engine from cfg.
func NewEngine(cfg EngineConfig) *Engine {
	bits := cfg.KeyBits
	if bits == 0 {
		bits = DefaultKeyBits
	}
	return &Engine{
		config: &packet.Config{
			Algorithm:     packet.PubKeyAlgoRSA,
			RSABits:       bits,
			DefaultHash:   crypto.SHA256,
			DefaultCipher: packet.CipherAES256,
			Time:          cfg.Now,
		},
	}
}

// KeyBits reports the configured RSA key size.
func (e *Engine) KeyBits() int {
	return e.config.RSABits
}

// GenerateKeyPair creates a non-expiring RSA key pair for identity, which is
// used as both the user id name and email. The private half is protected
// with passphrase before export. Both halves are ASCII-armored.
func (e *Engine) GenerateKeyPair(identity, passphrase string) (publicKey, privateKey string, err error) {
	if identity == "" || passphrase == "" {
		return "", "", common.ErrorInvalidInput
	}

	entity, err := openpgp.NewEntity(identity, "", identity, e.config)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", common.ErrKeyGeneration, err)
	}

	publicKey, err = armorEntity(openpgp.PublicKeyType, entity.Serialize)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", common.ErrKeyGeneration, err)
	}

	if err := entity.EncryptPrivateKeys([]byte(passphrase), e.config); err != nil {
		return "", "", fmt.Errorf("%w: %v", common.ErrKeyGeneration, err)
	}

	privateKey, err = armorEntity(openpgp.PrivateKeyType, func(w io.Writer) error {
		return entity.SerializePrivateWithoutSigning(w, e.config)
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", common.ErrKeyGeneration, err)
	}

	return publicKey, privateKey, nil
}

// Encrypt encrypts content to every entity found in the armored
// recipientPublicKey and returns an armored PGP message. Trust in the key
// is not checked.
//
// Parameters:
//   - content: the message body in plain text.
//   - recipientPublicKey: an ASCII-armored public key block.
//
// Returns:
//   - the armored "PGP MESSAGE" block.
//   - err: wraps common.ErrEncryption when the key cannot be read or the
//     message cannot be written.
//
// Example:
//
//	ct, err := engine.Encrypt("Hearing moved to Tuesday", recipientKey)
//	if err != nil {
//	    return err
//	}
//	plain, err := engine.Decrypt(ct, recipientPrivateKey, passphrase)
func (e *Engine) Encrypt(content, recipientPublicKey string) (string, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(recipientPublicKey))
	if err != nil {
		return "", fmt.Errorf("%w: reading public key: %v", common.ErrEncryption, err)
	}
	if len(keyring) == 0 {
		return "", fmt.Errorf("%w: empty key ring", common.ErrEncryption)
	}

	var buf bytes.Buffer
	aw, err := armor.Encode(&buf, messageType, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	pw, err := openpgp.Encrypt(aw, keyring, nil, nil, e.config)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}
	if _, err := io.WriteString(pw, content); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}
	if err := pw.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}
	if err := aw.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	return buf.String(), nil
}

// Decrypt unlocks the armored privateKey with passphrase and decrypts the
// armored ciphertext. Any failure returns common.ErrDecryption without
// saying whether the key, the passphrase or the message was at fault.
func (e *Engine) Decrypt(ciphertext, privateKey, passphrase string) (string, error) {
	keyring, err := unlockKeyRing(privateKey, passphrase)
	if err != nil {
		return "", common.ErrDecryption
	}

	block, err := armor.Decode(strings.NewReader(ciphertext))
	if err != nil || block.Type != messageType {
		return "", common.ErrDecryption
	}

	md, err := openpgp.ReadMessage(block.Body, keyring, nil, e.config)
	if err != nil {
		return "", common.ErrDecryption
	}

	plain, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return "", common.ErrDecryption
	}

	return string(plain), nil
}

// VerifyPassphrase reports whether passphrase unlocks the armored privateKey.
func (e *Engine) VerifyPassphrase(privateKey, passphrase string) error {
	if _, err := unlockKeyRing(privateKey, passphrase); err != nil {
		return common.ErrDecryption
	}
	return nil
}

func unlockKeyRing(privateKey, passphrase string) (openpgp.EntityList, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(privateKey))
	if err != nil {
		return nil, err
	}

	unlocked := 0
	for _, entity := range keyring {
		if entity.PrivateKey == nil {
			continue
		}
		if err := entity.DecryptPrivateKeys([]byte(passphrase)); err != nil {
			return nil, err
		}
		unlocked++
	}
	if unlocked == 0 {
		return nil, common.ErrDecryption
	}

	return keyring, nil
}

func armorEntity(blockType string, serialize func(io.Writer) error) (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, blockType, nil)
	if err != nil {
		return "", err
	}
	if err := serialize(w); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
