package sources

import (
	"context"
	"errors"
	"time"

	"github.com/catalog-dev/catalog-ingest/internal/pricing"
)

// Source is the identity and configuration surface shared by every catalog.
type Source interface {
	ID() string
	Name() string

	CredentialFields() []CredentialField
	SetCredentials(creds map[string]string)
	ValidateCredentials(ctx context.Context) error

	// DefaultSchedule is the cron spec used until an operator overrides it.
	DefaultSchedule() string
}

// DetailSource is a catalog crawled one detail page per item.
type DetailSource interface {
	Source
	ListIDs(ctx context.Context, params ListParams) ([]string, error)
	FetchDetail(ctx context.Context, localID string) (*Page, error)
	// ParseDetail returns a *NotAProductError when the page is a redirect,
	// age gate or placeholder rather than a real item.
	ParseDetail(page *Page) (*ProductInfo, error)
}

// CatalogSource is a catalog delivered in batches (API pages, CSV dumps).
type CatalogSource interface {
	Source
	FetchBatch(ctx context.Context, params ListParams) (*Batch, error)
	ParseItem(item BatchItem) (*ProductInfo, error)
}

// OriginTagger overrides the data-origin tag ("api") recorded for items of a
// catalog source.
type OriginTagger interface {
	DataOrigin() string
}

// RunScoped is implemented by sources that hold per-run state, such as a
// downloaded dump. The runner calls BeginRun before the first request of a
// run and EndRun when the run ends.
type RunScoped interface {
	BeginRun()
	EndRun()
}

// Enricher adds data from secondary endpoints. Only called when a run asks
// for enrichment.
type Enricher interface {
	Enrich(ctx context.Context, p *ProductInfo) error
}

// ListParams bounds a run. StartID/EndID are inclusive and only meaningful
// for sources with ordered ids.
type ListParams struct {
	Limit   int
	Offset  int
	StartID string
	EndID   string
}

// Page is one fetched detail page.
type Page struct {
	LocalID    string
	URL        string
	FinalURL   string
	StatusCode int
	Redirected bool
	Body       []byte
	FetchedAt  time.Time
}

type Batch struct {
	Items      []BatchItem
	TotalCount int
}

// BatchItem is the raw representation of one item inside a batch.
type BatchItem struct {
	LocalID string
	URL     string
	Raw     []byte
}

// ProductInfo is the intermediate product every parser produces and the
// resolver consumes. Optional fields are left zero when a source has no
// value for them.
type ProductInfo struct {
	SourceID        string                 `json:"sourceId"`
	LocalID         string                 `json:"localId"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description,omitempty"`
	ReleaseDate     *time.Time             `json:"releaseDate,omitempty"`
	DurationMinutes int                    `json:"durationMinutes,omitempty"`
	ThumbnailURL    string                 `json:"thumbnailUrl,omitempty"`
	SampleImageURLs []string               `json:"sampleImageUrls,omitempty"`
	SampleVideoURLs []string               `json:"sampleVideoUrls,omitempty"`
	Price           int                    `json:"price,omitempty"`
	Sale            *pricing.SaleInfo      `json:"sale,omitempty"`
	Performers      []PerformerInfo        `json:"performers,omitempty"`
	Genres          []string               `json:"genres,omitempty"`
	AffiliateURL    string                 `json:"affiliateUrl,omitempty"`
	Extra           map[string]interface{} `json:"extra,omitempty"`
}

// PerformerInfo is a validated performer name with optional extras.
type PerformerInfo struct {
	Name       string   `json:"name"`
	Reading    string   `json:"reading,omitempty"`
	Aliases    []string `json:"aliases,omitempty"`
	ExternalID string   `json:"externalId,omitempty"`
}

// CredentialField defines a credential input field
type CredentialField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Type     string `json:"type"` // "text", "password"
	Required bool   `json:"required"`
	HelpText string `json:"helpText,omitempty"`
}

// AdapterError represents an error from a source
type AdapterError struct {
	Code    string
	Message string
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrCodeAuth               = "AUTH_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeRateLimit          = "RATE_LIMITED"
	ErrCodeNetwork            = "NETWORK_ERROR"
	ErrCodeInvalidConfig      = "INVALID_CONFIG"
	ErrCodeNotAProduct        = "NOT_A_PRODUCT"
	ErrCodeValidationRejected = "VALIDATION_REJECTED"
	ErrCodeParse              = "PARSE_ERROR"
)

// NewAdapterError creates a new adapter error
func NewAdapterError(code, message string, err error) *AdapterError {
	return &AdapterError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

var (
	// ErrNotAProduct matches every *NotAProductError.
	ErrNotAProduct = errors.New("not a product page")
	// ErrValidationRejected is returned when the title itself fails validation.
	ErrValidationRejected = errors.New("validation rejected")
	// ErrMissingCredentials aborts a run before any request is made.
	ErrMissingCredentials = errors.New("missing required credentials")
)

// NotAProductError is the expected outcome for redirects, age gates and
// placeholder pages. It is not a failure.
type NotAProductError struct {
	LocalID string
	Reason  string
}

func (e *NotAProductError) Error() string {
	return "not a product page (" + e.Reason + "): " + e.LocalID
}

func (e *NotAProductError) Is(target error) bool {
	return target == ErrNotAProduct
}

func NotAProduct(localID, reason string) *NotAProductError {
	return &NotAProductError{LocalID: localID, Reason: reason}
}
