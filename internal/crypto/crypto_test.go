package crypto

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	svc, err := NewService(key)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	plaintext := []byte("sk-very-secret-api-key")
	ciphertext, nonce, err := svc.EncryptBytes(plaintext)
	if err != nil {
		t.Fatalf("EncryptBytes: %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Error("expected ciphertext to differ from plaintext")
	}

	got, err := svc.DecryptBytes(ciphertext, nonce)
	if err != nil {
		t.Fatalf("DecryptBytes: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("expected round-tripped plaintext %q, got %q", plaintext, got)
	}
}

func TestDecryptFailsOnTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	svc, _ := NewService(key)
	ciphertext, nonce, _ := svc.EncryptBytes([]byte("hello"))
	ciphertext[0] ^= 0xFF

	if _, err := svc.DecryptBytes(ciphertext, nonce); err == nil {
		t.Error("expected decryption to fail on tampered ciphertext")
	}
}

func TestNewServiceRejectsInvalidKeyLength(t *testing.T) {
	if _, err := NewService([]byte("too-short")); err != ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestNewServiceFromStringDecodesBase64(t *testing.T) {
	key := make([]byte, 32)
	encoded := base64.StdEncoding.EncodeToString(key)

	svc, err := NewServiceFromString(encoded)
	if err != nil {
		t.Fatalf("NewServiceFromString: %v", err)
	}
	if svc.KeyID() == "" {
		t.Error("expected a non-empty key ID")
	}
}

func TestNewServiceFromStringRejectsNonBase64(t *testing.T) {
	if _, err := NewServiceFromString("not base64!!!"); err == nil {
		t.Error("expected an error for a non-base64 string")
	}
}

func TestKeyIDStableForSameKey(t *testing.T) {
	key := make([]byte, 32)
	a, _ := NewService(key)
	b, _ := NewService(key)
	if a.KeyID() != b.KeyID() {
		t.Error("expected the same key to produce the same key ID")
	}
}
