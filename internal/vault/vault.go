// Package vault encrypts mailbox credentials at rest. The key is derived
// from the deployment's master secret, so restores onto a host with a
// different secret fail loudly instead of yielding garbage passwords.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keySalt       = "argus_email_salt_v1"
	keyIterations = 100_000
	keyLength     = 32
)

// ErrDecrypt reports an undecryptable ciphertext: wrong master secret,
// truncation or tampering. Callers must treat it as fatal for the operation,
// never as an empty password.
var ErrDecrypt = errors.New("credential decryption failed")

// Vault seals and opens credential strings with a key derived from the
// master secret.
type Vault struct {
	aead cipher.AEAD
}

func New(masterSecret string) (*Vault, error) {
	if masterSecret == "" {
		return nil, errors.New("master secret is required")
	}

	key := pbkdf2.Key([]byte(masterSecret), []byte(keySalt), keyIterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "init cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "init gcm")
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals the plaintext. The random nonce is prepended to the
// ciphertext and the whole blob is base64 encoded. Empty input stays empty.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "generate nonce")
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Empty input stays empty.
func (v *Vault) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.Wrapf(ErrDecrypt, "decode: %v", err)
	}
	if len(blob) < v.aead.NonceSize() {
		return "", errors.Wrap(ErrDecrypt, "blob too short")
	}

	nonce, ciphertext := blob[:v.aead.NonceSize()], blob[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Wrapf(ErrDecrypt, "open: %v", err)
	}
	return string(plaintext), nil
}
