package hooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/catalog-dev/catalog-ingest/internal/database"
)

// SignatureHeader carries "sha256=<hex hmac of the body>" when the webhook
// has a secret.
const SignatureHeader = "X-Catalog-Signature"

type Manager struct {
	db         *database.DB
	httpClient *http.Client
	wg         sync.WaitGroup
}

func New(db *database.DB) *Manager {
	return &Manager{
		db:         db,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Emit delivers event asynchronously to every enabled webhook subscribed to
// its type. A nil Manager drops the event.
func (m *Manager) Emit(ctx context.Context, event *Event) {
	if m == nil {
		return
	}
	webhooks, err := m.getWebhooksForEvent(event.Type)
	if err != nil {
		slog.Error("Failed to get webhooks", "error", err)
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, webhook := range webhooks {
		m.wg.Add(1)
		go func(wh database.Webhook) {
			defer m.wg.Done()
			m.deliverWebhook(ctx, wh, event)
		}(webhook)
	}
}

// Wait blocks until every pending delivery finished.
func (m *Manager) Wait() {
	if m != nil {
		m.wg.Wait()
	}
}

func (m *Manager) getWebhooksForEvent(eventType string) ([]database.Webhook, error) {
	var webhooks []database.Webhook
	if err := m.db.Where("enabled = ?", true).Find(&webhooks).Error; err != nil {
		return nil, err
	}

	var matching []database.Webhook
	for _, wh := range webhooks {
		var events []string
		if json.Unmarshal([]byte(wh.Events), &events) != nil {
			continue
		}
		for _, e := range events {
			if e == eventType || e == "*" {
				matching = append(matching, wh)
				break
			}
		}
	}
	return matching, nil
}

func (m *Manager) deliverWebhook(ctx context.Context, webhook database.Webhook, event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal event", "error", err, "webhookID", webhook.ID)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(payload))
	if err != nil {
		slog.Error("Failed to create request", "error", err, "webhookID", webhook.ID)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "CatalogIngest/1.0")
	if webhook.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(webhook.Secret, payload))
	}

	if len(webhook.Headers) > 0 {
		var headers map[string]string
		if json.Unmarshal(webhook.Headers, &headers) == nil {
			for k, v := range headers {
				req.Header.Set(k, v)
			}
		}
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		slog.Error("Webhook delivery failed", "error", err, "webhookID", webhook.ID)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("Webhook error", "status", resp.StatusCode, "webhookID", webhook.ID)
	}
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value in constant time.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// WebhookInput holds the editable fields of a webhook.
type WebhookInput struct {
	Name    string
	URL     string
	Events  []string
	Secret  string
	Headers map[string]string
	Enabled bool
}

func (m *Manager) CreateWebhook(in WebhookInput) (*database.Webhook, error) {
	eventsJSON, err := json.Marshal(in.Events)
	if err != nil {
		return nil, err
	}
	webhook := &database.Webhook{
		Name:    in.Name,
		URL:     in.URL,
		Events:  string(eventsJSON),
		Secret:  in.Secret,
		Enabled: true,
	}
	if len(in.Headers) > 0 {
		if webhook.Headers, err = json.Marshal(in.Headers); err != nil {
			return nil, err
		}
	}
	if err := m.db.Create(webhook).Error; err != nil {
		return nil, err
	}
	return webhook, nil
}

func (m *Manager) UpdateWebhook(id uint, in WebhookInput) error {
	eventsJSON, err := json.Marshal(in.Events)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{
		"name":    in.Name,
		"url":     in.URL,
		"events":  string(eventsJSON),
		"enabled": in.Enabled,
	}
	if in.Secret != "" {
		updates["secret"] = in.Secret
	}
	if in.Headers != nil {
		headers, err := json.Marshal(in.Headers)
		if err != nil {
			return err
		}
		updates["headers"] = headers
	}
	return m.db.Model(&database.Webhook{}).Where("id = ?", id).Updates(updates).Error
}

func (m *Manager) DeleteWebhook(id uint) error {
	return m.db.Delete(&database.Webhook{}, id).Error
}

func (m *Manager) ListWebhooks() ([]database.Webhook, error) {
	var webhooks []database.Webhook
	return webhooks, m.db.Find(&webhooks).Error
}

func (m *Manager) GetWebhook(id uint) (*database.Webhook, error) {
	var webhook database.Webhook
	if err := m.db.First(&webhook, id).Error; err != nil {
		return nil, err
	}
	return &webhook, nil
}

func ParseEvents(eventsJSON string) []string {
	var events []string
	json.Unmarshal([]byte(eventsJSON), &events)
	return events
}

func AllEvents() []string {
	return []string{
		EventRunStarted,
		EventRunCompleted,
		EventRunFailed,
		EventRunCancelled,
		EventProductCreated,
		EventSourceRateLimited,
		EventTotalsRefreshed,
		EventCredentialsInvalid,
	}
}

func IsValidEvent(event string) bool {
	if event == "*" {
		return true
	}
	for _, e := range AllEvents() {
		if strings.EqualFold(e, event) {
			return true
		}
	}
	return false
}
