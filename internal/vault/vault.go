// Package vault encrypts per-tenant processor secrets at rest.
//
// Ciphertext is a versioned JSON envelope over AES-256-GCM; the key is
// derived from the application secret. Tenant code never sees the key, and
// decrypted values live only for the duration of a call.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/steeplehq/giving/internal/config"
	"go.uber.org/fx"
)

var (
	// ErrKeyMissing is returned when no vault key is configured.
	ErrKeyMissing = errors.New("vault key missing")

	// ErrInvalidCiphertext is returned for malformed or foreign ciphertext,
	// so callers can report a misconfigured gateway instead of passing
	// garbage to a provider.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

const envelopeVersion = 1

type envelope struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Vault performs symmetric encryption of credential strings.
type Vault struct {
	key []byte
}

func New(cfg config.Config) *Vault {
	secret := strings.TrimSpace(cfg.GivingSecretKey)
	if secret == "" {
		return &Vault{}
	}
	sum := sha256.Sum256([]byte(secret))
	return &Vault{key: sum[:]}
}

// Encrypt seals plaintext into a versioned envelope.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if len(v.key) == 0 {
		return "", ErrKeyMissing
	}

	gcm, err := v.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	encoded, err := json.Marshal(envelope{
		Version:    envelopeVersion,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Anything else fails with
// ErrInvalidCiphertext.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if len(v.key) == 0 {
		return "", ErrKeyMissing
	}
	if strings.TrimSpace(ciphertext) == "" {
		return "", ErrInvalidCiphertext
	}

	var payload envelope
	if err := json.Unmarshal([]byte(ciphertext), &payload); err != nil {
		return "", ErrInvalidCiphertext
	}
	if payload.Version != envelopeVersion {
		return "", ErrInvalidCiphertext
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	sealed, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	gcm, err := v.gcm()
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plain), nil
}

// IsEncrypted reports whether value already carries the envelope shape.
// Gateway saves use it to avoid double-encrypting stored secrets.
func (v *Vault) IsEncrypted(value string) bool {
	var payload envelope
	if err := json.Unmarshal([]byte(value), &payload); err != nil {
		return false
	}
	return payload.Version == envelopeVersion && payload.Nonce != "" && payload.Ciphertext != ""
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

var Module = fx.Module("vault",
	fx.Provide(New),
)
