package vault_test

import (
	"errors"
	"testing"

	"github.com/steeplehq/giving/internal/config"
	"github.com/steeplehq/giving/internal/vault"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := vault.New(config.Config{GivingSecretKey: "test_secret"})

	ciphertext, err := v.Encrypt("sk_live_abc123")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if ciphertext == "sk_live_abc123" {
		t.Fatalf("ciphertext equals plaintext")
	}
	if !v.IsEncrypted(ciphertext) {
		t.Fatalf("expected envelope shape")
	}

	plain, err := v.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "sk_live_abc123" {
		t.Fatalf("expected round trip, got %q", plain)
	}
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	v := vault.New(config.Config{GivingSecretKey: "test_secret"})

	first, err := v.Encrypt("same_value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	second, err := v.Encrypt("same_value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct ciphertexts for same plaintext")
	}
}

func TestDecryptRejectsForeignCiphertext(t *testing.T) {
	v := vault.New(config.Config{GivingSecretKey: "test_secret"})

	for _, input := range []string{
		"",
		"not json",
		`{"version":1,"nonce":"!!","ciphertext":"!!"}`,
		`{"version":99,"nonce":"AAAA","ciphertext":"AAAA"}`,
	} {
		if _, err := v.Decrypt(input); !errors.Is(err, vault.ErrInvalidCiphertext) {
			t.Fatalf("input %q: expected ErrInvalidCiphertext, got %v", input, err)
		}
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	writer := vault.New(config.Config{GivingSecretKey: "key_one"})
	reader := vault.New(config.Config{GivingSecretKey: "key_two"})

	ciphertext, err := writer.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := reader.Decrypt(ciphertext); !errors.Is(err, vault.ErrInvalidCiphertext) {
		t.Fatalf("expected ErrInvalidCiphertext, got %v", err)
	}
}

func TestMissingKey(t *testing.T) {
	v := vault.New(config.Config{})

	if _, err := v.Encrypt("x"); !errors.Is(err, vault.ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
	if _, err := v.Decrypt("x"); !errors.Is(err, vault.ErrKeyMissing) {
		t.Fatalf("expected ErrKeyMissing, got %v", err)
	}
}
