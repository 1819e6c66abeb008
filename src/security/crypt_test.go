package security

import (
	"encoding/base64"
	"errors"
	"testing"
)

func setKey(t *testing.T, raw []byte) {
	t.Helper()
	t.Setenv("EXCHANGE_CREDENTIALS_KEY", base64.StdEncoding.EncodeToString(raw))
}

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	setKey(t, testKey())

	plain := "kraken-api-secret-AbCdEf0123=="
	sealed, err := EncryptString(plain)
	if err != nil {
		t.Fatalf("EncryptString failed: %v", err)
	}
	if sealed == plain {
		t.Fatal("ciphertext equals plaintext")
	}

	opened, err := DecryptString(sealed)
	if err != nil {
		t.Fatalf("DecryptString failed: %v", err)
	}
	if opened != plain {
		t.Fatalf("round trip mismatch: %q", opened)
	}
}

func TestEncryptProducesFreshNonces(t *testing.T) {
	setKey(t, testKey())

	a, err := EncryptString("same input")
	if err != nil {
		t.Fatalf("EncryptString failed: %v", err)
	}
	b, err := EncryptString("same input")
	if err != nil {
		t.Fatalf("EncryptString failed: %v", err)
	}
	if a == b {
		t.Fatal("two encryptions of the same input produced identical ciphertext")
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	setKey(t, testKey())
	sealed, err := EncryptString("secret")
	if err != nil {
		t.Fatalf("EncryptString failed: %v", err)
	}

	other := testKey()
	other[0] ^= 0xff
	setKey(t, other)

	if _, err := DecryptString(sealed); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	setKey(t, testKey())
	sealed, err := EncryptString("secret")
	if err != nil {
		t.Fatalf("EncryptString failed: %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := DecryptString(tampered); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
}

func TestMissingKey(t *testing.T) {
	t.Setenv("EXCHANGE_CREDENTIALS_KEY", "")

	if _, err := EncryptString("secret"); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
}

func TestShortCiphertext(t *testing.T) {
	setKey(t, testKey())

	short := base64.StdEncoding.EncodeToString([]byte("tiny"))
	if _, err := DecryptString(short); !errors.Is(err, ErrCiphertextShort) {
		t.Fatalf("expected ErrCiphertextShort, got %v", err)
	}
}
