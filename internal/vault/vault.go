// Package vault encrypts per-source credentials with a key derived from the
// operator passphrase and guards the mutating API routes with the same
// passphrase.
package vault

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/catalog-dev/catalog-ingest/internal/database"
)

const apiKeyHeader = "X-API-Key"

var (
	ErrNotConfigured      = errors.New("passphrase not configured")
	ErrPassphraseMismatch = errors.New("passphrase does not match the one the credentials were stored with")
)

type Vault struct {
	db   *database.DB
	salt []byte
	hash string
	key  []byte
}

// New opens the vault for passphrase. An empty passphrase yields a vault
// that refuses to encrypt or decrypt. A passphrase different from the one
// previously stored is an error, since stored credentials could no longer
// be read.
func New(db *database.DB, passphrase string) (*Vault, error) {
	v := &Vault{db: db}
	if passphrase == "" {
		return v, nil
	}

	salt, err := v.loadOrCreateSalt(database.SettingPassphraseSalt)
	if err != nil {
		return nil, err
	}
	if stored, err := db.GetSetting(database.SettingPassphraseHash); err == nil {
		if !VerifyPassphrase(passphrase, salt, stored) {
			return nil, ErrPassphraseMismatch
		}
		v.hash = stored
	} else {
		v.hash = HashPassphrase(passphrase, salt)
		if err := db.SetSetting(database.SettingPassphraseHash, v.hash); err != nil {
			return nil, fmt.Errorf("store passphrase hash: %w", err)
		}
	}
	v.salt = salt

	encSalt, err := v.loadOrCreateSalt(database.SettingEncryptionSalt)
	if err != nil {
		return nil, err
	}
	v.key = DeriveKey(passphrase, encSalt)
	return v, nil
}

func (v *Vault) loadOrCreateSalt(setting string) ([]byte, error) {
	if s, err := v.db.GetSetting(setting); err == nil {
		salt, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", setting, err)
		}
		return salt, nil
	}
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	if err := v.db.SetSetting(setting, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("store %s: %w", setting, err)
	}
	return salt, nil
}

// Configured reports whether a passphrase was supplied.
func (v *Vault) Configured() bool {
	return v.key != nil
}

func (v *Vault) EncryptCredentials(plaintext []byte) ([]byte, error) {
	if v.key == nil {
		return nil, ErrNotConfigured
	}
	return Seal(plaintext, v.key)
}

func (v *Vault) DecryptCredentials(ciphertext []byte) ([]byte, error) {
	if v.key == nil {
		return nil, ErrNotConfigured
	}
	return Open(ciphertext, v.key)
}

// Validate checks an API key against the stored passphrase hash.
func (v *Vault) Validate(key string) bool {
	if v.key == nil || key == "" {
		return false
	}
	return VerifyPassphrase(key, v.salt, v.hash)
}

// Middleware requires the passphrase in the X-API-Key header for every
// request that is not a GET, HEAD or OPTIONS. Without a configured
// passphrase all requests pass.
func (v *Vault) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if !v.Configured() || v.Validate(r.Header.Get(apiKeyHeader)) {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}
