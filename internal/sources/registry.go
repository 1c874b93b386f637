package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/catalog-dev/catalog-ingest/internal/database"
)

var ErrSourceNotFound = errors.New("source not found")

// Registry manages sources and their persisted state
type Registry struct {
	db      *database.DB
	sources map[string]Source
	creds   map[string]map[string]string
	mu      sync.RWMutex
}

// NewRegistry creates a new source registry
func NewRegistry(db *database.DB) *Registry {
	return &Registry{
		db:      db,
		sources: make(map[string]Source),
		creds:   make(map[string]map[string]string),
	}
}

// RegisterBuiltin registers the built-in sources.
// This is called from main.go to avoid import cycles
func (r *Registry) RegisterBuiltin(sources ...Source) {
	for _, s := range sources {
		r.Register(s)
	}
}

// Register adds a source to the registry
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.ID()] = s
}

// Get returns a source by ID
func (r *Registry) Get(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	return s, ok
}

// List returns all registered sources sorted by ID
func (r *Registry) List() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

// ListSources returns all sources with their database state
func (r *Registry) ListSources() ([]SourceInfo, error) {
	list := r.List()
	infos := make([]SourceInfo, 0, len(list))
	for _, s := range list {
		infos = append(infos, r.info(s))
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos, nil
}

// GetSource returns a source by ID with its database state
func (r *Registry) GetSource(id string) (*SourceInfo, error) {
	s, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	info := r.info(s)
	return &info, nil
}

func (r *Registry) info(s Source) SourceInfo {
	info := SourceInfo{
		ID:               s.ID(),
		Name:             s.Name(),
		Kind:             Kind(s),
		Schedule:         s.DefaultSchedule(),
		CredentialFields: s.CredentialFields(),
	}
	if info.CredentialFields == nil {
		info.CredentialFields = []CredentialField{}
	}

	var dbSource database.Source
	if err := r.db.Where("id = ?", s.ID()).First(&dbSource).Error; err == nil {
		info.Enabled = dbSource.Enabled
		info.LastSyncAt = dbSource.LastSyncAt
		info.HasCredentials = len(dbSource.CredentialsEnc) > 0
		if dbSource.CheckSchedule != "" {
			info.Schedule = dbSource.CheckSchedule
		}
	}
	return info
}

// Kind reports how a source is crawled: "detail", "catalog" or "unknown".
func Kind(s Source) string {
	switch s.(type) {
	case DetailSource:
		return "detail"
	case CatalogSource:
		return "catalog"
	default:
		return "unknown"
	}
}

// CredentialDecryptorEncryptor combines both interfaces for UpdateSource
type CredentialDecryptorEncryptor interface {
	CredentialEncryptor
	CredentialDecryptor
}

// SourceUpdate holds the operator-editable state of a source. A nil field
// leaves the stored value unchanged.
type SourceUpdate struct {
	Enabled     *bool
	Schedule    *string
	Credentials map[string]string
}

// UpdateSource updates source configuration
func (r *Registry) UpdateSource(id string, upd SourceUpdate, cryptor CredentialDecryptorEncryptor) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}

	var existing database.Source
	r.db.Where("id = ?", id).First(&existing)

	credentialsEnc := existing.CredentialsEnc

	if len(upd.Credentials) > 0 {
		if cryptor == nil {
			return errors.New("credentials cannot be stored without an encryption key")
		}
		credJSON, err := json.Marshal(upd.Credentials)
		if err != nil {
			return fmt.Errorf("failed to marshal credentials: %w", err)
		}
		credentialsEnc, err = cryptor.EncryptCredentials(credJSON)
		if err != nil {
			return fmt.Errorf("failed to encrypt credentials: %w", err)
		}
		r.setCredentials(s, upd.Credentials)
	} else if len(existing.CredentialsEnc) > 0 && cryptor != nil {
		if creds, err := decryptCredentials(cryptor, existing.CredentialsEnc); err == nil {
			r.setCredentials(s, creds)
		}
	}

	source := database.Source{
		ID:             id,
		Name:           s.Name(),
		Enabled:        existing.Enabled,
		CredentialsEnc: credentialsEnc,
		CheckSchedule:  existing.CheckSchedule,
		LastSyncAt:     existing.LastSyncAt,
		CreatedAt:      existing.CreatedAt,
	}
	if upd.Enabled != nil {
		source.Enabled = *upd.Enabled
	}
	if upd.Schedule != nil {
		source.CheckSchedule = strings.TrimSpace(*upd.Schedule)
	}

	return r.db.Save(&source).Error
}

// TestCredentials tests if the credentials for a source are valid
func (r *Registry) TestCredentials(ctx context.Context, id string, credentials map[string]string) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	if err := RequireCredentials(s.CredentialFields(), credentials); err != nil {
		return err
	}
	s.SetCredentials(credentials)
	return s.ValidateCredentials(ctx)
}

// LoadCredentialsWithDecryptor loads and decrypts credentials for all sources
func (r *Registry) LoadCredentialsWithDecryptor(decryptor CredentialDecryptor) error {
	var rows []database.Source
	if err := r.db.Find(&rows).Error; err != nil {
		return err
	}

	for _, row := range rows {
		if len(row.CredentialsEnc) == 0 {
			continue
		}
		s, ok := r.Get(row.ID)
		if !ok {
			continue
		}
		creds, err := decryptCredentials(decryptor, row.CredentialsEnc)
		if err != nil {
			continue
		}
		r.setCredentials(s, creds)
	}
	return nil
}

// CheckCredentials returns ErrMissingCredentials when a required credential
// field of the source has no value.
func (r *Registry) CheckCredentials(id string) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	r.mu.RLock()
	creds := r.creds[id]
	r.mu.RUnlock()
	return RequireCredentials(s.CredentialFields(), creds)
}

// RequireCredentials checks that every required field has a value.
func RequireCredentials(fields []CredentialField, creds map[string]string) error {
	var missing []string
	for _, f := range fields {
		if f.Required && strings.TrimSpace(creds[f.Key]) == "" {
			missing = append(missing, f.Key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// Schedule returns the effective cron spec of a source.
func (r *Registry) Schedule(id string) string {
	info, err := r.GetSource(id)
	if err != nil {
		return ""
	}
	return info.Schedule
}

// MarkSynced records the completion time of a successful run.
func (r *Registry) MarkSynced(id string, at time.Time) error {
	return r.db.Model(&database.Source{}).Where("id = ?", id).Update("last_sync_at", at).Error
}

func (r *Registry) setCredentials(s Source, creds map[string]string) {
	r.mu.Lock()
	r.creds[s.ID()] = creds
	r.mu.Unlock()
	s.SetCredentials(creds)
}

func decryptCredentials(d CredentialDecryptor, enc []byte) (map[string]string, error) {
	credJSON, err := d.DecryptCredentials(enc)
	if err != nil {
		return nil, err
	}
	var creds map[string]string
	if err := json.Unmarshal(credJSON, &creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// SourceInfo contains source metadata and state
type SourceInfo struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Kind             string            `json:"kind"`
	Enabled          bool              `json:"enabled"`
	HasCredentials   bool              `json:"hasCredentials"`
	Schedule         string            `json:"schedule"`
	LastSyncAt       *time.Time        `json:"lastSyncAt,omitempty"`
	CredentialFields []CredentialField `json:"credentialFields"`
}

// CredentialEncryptor interface for encrypting credentials
type CredentialEncryptor interface {
	EncryptCredentials(plaintext []byte) ([]byte, error)
}

// CredentialDecryptor interface for decrypting credentials
type CredentialDecryptor interface {
	DecryptCredentials(ciphertext []byte) ([]byte, error)
}
