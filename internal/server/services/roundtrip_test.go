package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/securemail/internal/common"
	"github.com/dmitrijs2005/securemail/internal/cryptox"
	"github.com/dmitrijs2005/securemail/internal/logging"
)

func TestEncryptedMailRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("generates RSA keys")
	}

	store := newMemStore()
	alice := store.addUser("alice@firm.test")
	bob := store.addUser("bob@firm.test")

	cfg := testConfig()
	cfg.VerifySessionPassphrase = true
	engine := cryptox.NewEngine(cryptox.EngineConfig{KeyBits: cfg.KeyBits})
	rm := memRepoManager{store}
	log := logging.NewNopLogger()

	keysSvc := NewKeyService(newTxDB(t), rm, engine, cfg, log)
	sessions := NewSessionService(newTxDB(t), rm, engine, cfg, log)
	mail := NewMailService(newTxDB(t, true), rm, engine, sessions, cfg, log)
	ctx := context.Background()

	gen, err := keysSvc.Generate(ctx, bob, "bob passphrase")
	require.NoError(t, err)
	assert.Contains(t, gen.PublicKey, "BEGIN PGP PUBLIC KEY BLOCK")

	msg, err := mail.Send(ctx, alice, SendRequest{ToUserID: bob, Subject: "Settlement", Body: "offer: 1.2M", IsEncrypted: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg.Content, "-----BEGIN PGP MESSAGE-----"))
	assert.NotContains(t, msg.Content, "1.2M")

	plain, err := mail.Decrypt(ctx, bob, msg.ID, "bob passphrase")
	require.NoError(t, err)
	assert.Equal(t, "offer: 1.2M", plain)

	_, err = mail.Decrypt(ctx, bob, msg.ID, "guess")
	assert.ErrorIs(t, err, common.ErrDecryption)

	_, err = sessions.CreateSession(ctx, bob, "guess")
	assert.ErrorIs(t, err, common.ErrDecryption)

	_, err = sessions.CreateSession(ctx, bob, "bob passphrase")
	require.NoError(t, err)
	plain, err = mail.Decrypt(ctx, bob, msg.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "offer: 1.2M", plain)
}
