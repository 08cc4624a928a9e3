// Package services contains the mail server's business logic: key records,
// decryption sessions, the mail store and attachments. Services run against
// repositories vended by a repomanager.RepositoryManager and open
// transactions with dbx.WithTx where several writes must land together.
package services

// Engine is the OpenPGP engine the services are built with. *cryptox.Engine
// satisfies it.
type Engine interface {
	GenerateKeyPair(identity, passphrase string) (publicKey, privateKey string, err error)
	Encrypt(content, recipientPublicKey string) (string, error)
	Decrypt(ciphertext, privateKey, passphrase string) (string, error)
	VerifyPassphrase(privateKey, passphrase string) error
}
