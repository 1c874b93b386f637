package vault

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/catalog-dev/catalog-ingest/internal/database/dbtest"
)

func TestSealOpen(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatal(err)
	}

	key := DeriveKey("test-passphrase", salt)
	plaintext := []byte(`{"api_key":"secret"}`)

	ciphertext, err := Seal(plaintext, key)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(plaintext, ciphertext) {
		t.Error("ciphertext should differ from plaintext")
	}

	decrypted, err := Open(ciphertext, key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plaintext, decrypted) {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	salt, _ := GenerateSalt()
	ciphertext, _ := Seal([]byte("secret"), DeriveKey("passphrase1", salt))
	if _, err := Open(ciphertext, DeriveKey("passphrase2", salt)); err == nil {
		t.Error("expected error with wrong key")
	}
}

func TestOpenTooShort(t *testing.T) {
	if _, err := Open([]byte("short"), make([]byte, 32)); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("Open() error = %v, want ErrCiphertextTooShort", err)
	}
}

func TestVerifyPassphrase(t *testing.T) {
	salt, _ := GenerateSalt()
	hash := HashPassphrase("my-secure-passphrase", salt)

	if !VerifyPassphrase("my-secure-passphrase", salt, hash) {
		t.Error("valid passphrase should verify")
	}
	if VerifyPassphrase("wrong-passphrase", salt, hash) {
		t.Error("wrong passphrase should not verify")
	}
}

func TestVaultRoundTripAcrossRestarts(t *testing.T) {
	db := dbtest.New(t)

	v1, err := New(db, "pass")
	if err != nil {
		t.Fatal(err)
	}
	enc, err := v1.EncryptCredentials([]byte("creds"))
	if err != nil {
		t.Fatal(err)
	}

	v2, err := New(db, "pass")
	if err != nil {
		t.Fatal(err)
	}
	dec, err := v2.DecryptCredentials(enc)
	if err != nil {
		t.Fatal(err)
	}
	if string(dec) != "creds" {
		t.Errorf("DecryptCredentials() = %q, want creds", dec)
	}

	if _, err := New(db, "other"); !errors.Is(err, ErrPassphraseMismatch) {
		t.Errorf("New() with a different passphrase error = %v, want ErrPassphraseMismatch", err)
	}
}

func TestVaultNotConfigured(t *testing.T) {
	v, err := New(dbtest.New(t), "")
	if err != nil {
		t.Fatal(err)
	}
	if v.Configured() {
		t.Error("Configured() = true without a passphrase")
	}
	if _, err := v.EncryptCredentials([]byte("x")); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("EncryptCredentials() error = %v, want ErrNotConfigured", err)
	}
	if v.Validate("") {
		t.Error("Validate() = true without a passphrase")
	}
}

func TestMiddleware(t *testing.T) {
	v, err := New(dbtest.New(t), "pass")
	if err != nil {
		t.Fatal(err)
	}
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		method, key string
		want        int
	}{
		{http.MethodGet, "", http.StatusNoContent},
		{http.MethodPost, "", http.StatusUnauthorized},
		{http.MethodPost, "wrong", http.StatusUnauthorized},
		{http.MethodPost, "pass", http.StatusNoContent},
		{http.MethodDelete, "pass", http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "/api/sources/duga/runs", nil)
		if tt.key != "" {
			req.Header.Set(apiKeyHeader, tt.key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s with key %q: status = %d, want %d", tt.method, tt.key, rec.Code, tt.want)
		}
	}
}
