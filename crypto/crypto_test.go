package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESEncryptorKeyValidation(t *testing.T) {
	cases := []struct {
		name string
		key  string
		ok   bool
	}{
		{"valid 32-byte key", testKey(t), true},
		{"empty key", "", false},
		{"not base64", "not-base64!!!", false},
		{"wrong length", base64.StdEncoding.EncodeToString([]byte("short")), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAESEncryptor(tc.key)
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}
	plaintext := []byte("ya29.a0AfH6SMBx-access-token")
	ct, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(ct, plaintext) {
		t.Error("ciphertext contains plaintext")
	}
	got, err := enc.Decrypt(ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestEncryptProducesDistinctCiphertexts(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}
	a, err := enc.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := enc.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext produced identical ciphertext (nonce reuse?)")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}
	ct, err := enc.Encrypt([]byte("refresh-token"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	ct[len(ct)-1] ^= 0xff
	if _, err := enc.Decrypt(ct); err == nil {
		t.Error("decrypt accepted tampered ciphertext")
	}
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}
	if _, err := enc.Decrypt([]byte{0x01, 0x02}); err == nil {
		t.Error("decrypt accepted truncated ciphertext")
	}
}

func TestEncryptStringNilEncryptorPassthrough(t *testing.T) {
	out, err := EncryptString(nil, "plaintext-token")
	if err != nil {
		t.Fatalf("encrypt string: %v", err)
	}
	if out != "plaintext-token" {
		t.Errorf("nil encryptor should pass through, got %q", out)
	}
	back, err := DecryptString(nil, out)
	if err != nil || back != "plaintext-token" {
		t.Errorf("nil decryptor should pass through, got %q err %v", back, err)
	}
}

func TestEncryptStringRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}
	out, err := EncryptString(enc, "1//refresh")
	if err != nil {
		t.Fatalf("encrypt string: %v", err)
	}
	if strings.Contains(out, "refresh") {
		t.Error("encrypted string leaks plaintext")
	}
	back, err := DecryptString(enc, out)
	if err != nil {
		t.Fatalf("decrypt string: %v", err)
	}
	if back != "1//refresh" {
		t.Errorf("round trip mismatch: %q", back)
	}
}
