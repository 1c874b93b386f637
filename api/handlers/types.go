package handlers

import "time"

type Error struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status  string  `json:"status"`
	Uptime  *string `json:"uptime,omitempty"`
	Version *string `json:"version,omitempty"`
}

type StatsResponse struct {
	Products       int `json:"products"`
	Performers     int `json:"performers"`
	ActiveSales    int `json:"activeSales"`
	RawResponses   int `json:"rawResponses"`
	Unprocessed    int `json:"unprocessed"`
	EnabledSources int `json:"enabledSources"`
	ActiveRuns     int `json:"activeRuns"`
}

type Product struct {
	Id              string     `json:"id"`
	Title           string     `json:"title"`
	Description     *string    `json:"description,omitempty"`
	ReleaseDate     *time.Time `json:"releaseDate,omitempty"`
	DurationMinutes *int       `json:"durationMinutes,omitempty"`
	ThumbnailUrl    *string    `json:"thumbnailUrl,omitempty"`
	Sources         []string   `json:"sources,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type ProductListResponse struct {
	Products []Product `json:"products"`
	Total    int       `json:"total"`
}

type ProductDetail struct {
	Product
	Listings   []Listing   `json:"listings"`
	Images     []string    `json:"images"`
	Videos     []string    `json:"videos"`
	Performers []Performer `json:"performers"`
	Categories []string    `json:"categories"`
	Sales      []Sale      `json:"sales"`
}

// Listing is the per-source view of a product.
type Listing struct {
	SourceId     string    `json:"sourceId"`
	OriginalId   string    `json:"originalId"`
	AffiliateUrl string    `json:"affiliateUrl,omitempty"`
	Price        *int      `json:"price,omitempty"`
	DataOrigin   string    `json:"dataOrigin"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

type Sale struct {
	SourceId        string     `json:"sourceId"`
	RegularPrice    int        `json:"regularPrice"`
	SalePrice       int        `json:"salePrice"`
	DiscountPercent int        `json:"discountPercent"`
	SaleType        string     `json:"saleType,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	ExpiryInferred  bool       `json:"expiryInferred"`
	Active          bool       `json:"active"`
}

type Performer struct {
	Id      int      `json:"id"`
	Name    string   `json:"name"`
	Reading *string  `json:"reading,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
}

type PerformerListResponse struct {
	Performers []Performer `json:"performers"`
	Total      int         `json:"total"`
}

type CredentialField struct {
	Key      string  `json:"key"`
	Label    string  `json:"label"`
	Type     string  `json:"type"`
	Required bool    `json:"required"`
	HelpText *string `json:"helpText,omitempty"`
}

type Source struct {
	Id               string            `json:"id"`
	Name             string            `json:"name"`
	Kind             string            `json:"kind"`
	Enabled          bool              `json:"enabled"`
	HasCredentials   bool              `json:"hasCredentials"`
	Schedule         string            `json:"schedule"`
	NextRun          *time.Time        `json:"nextRun,omitempty"`
	LastSyncAt       *time.Time        `json:"lastSyncAt,omitempty"`
	Running          bool              `json:"running"`
	CredentialFields []CredentialField `json:"credentialFields"`
}

type UpdateSourceRequest struct {
	Enabled     *bool              `json:"enabled,omitempty"`
	Schedule    *string            `json:"schedule,omitempty"`
	Credentials *map[string]string `json:"credentials,omitempty"`
}

type TestCredentialsRequest struct {
	Credentials map[string]string `json:"credentials"`
}

type Run struct {
	Id          string         `json:"id"`
	SourceId    string         `json:"sourceId"`
	Mode        string         `json:"mode"`
	Status      string         `json:"status"`
	Stats       map[string]int `json:"stats"`
	Error       *string        `json:"error,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

type Webhook struct {
	Id        int        `json:"id"`
	Name      string     `json:"name"`
	Url       string     `json:"url"`
	Events    []string   `json:"events"`
	Enabled   bool       `json:"enabled"`
	HasSecret bool       `json:"hasSecret"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

type CreateWebhookRequest struct {
	Name    string            `json:"name"`
	Url     string            `json:"url"`
	Events  []string          `json:"events"`
	Secret  string            `json:"secret,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type UpdateWebhookRequest struct {
	Name    *string            `json:"name,omitempty"`
	Url     *string            `json:"url,omitempty"`
	Events  *[]string          `json:"events,omitempty"`
	Secret  *string            `json:"secret,omitempty"`
	Headers *map[string]string `json:"headers,omitempty"`
	Enabled *bool              `json:"enabled,omitempty"`
}

// ListProductsParams are the query parameters of GET /api/products.
type ListProductsParams struct {
	Source    *string
	Performer *int
	Q         *string
	OnSale    *bool
	Limit     *int
	Offset    *int
}

type ListPerformersParams struct {
	Q      *string
	Limit  *int
	Offset *int
}

type ListRunsParams struct {
	Source *string
	Limit  *int
}
