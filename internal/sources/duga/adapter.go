// Package duga ingests the DUGA affiliate web service, a REST JSON API
// limited to 60 requests per minute per application id.
package duga

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/catalog-dev/catalog-ingest/internal/estimator"
	"github.com/catalog-dev/catalog-ingest/internal/fetch"
	"github.com/catalog-dev/catalog-ingest/internal/ratelimit"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

const (
	SourceID       = "duga"
	SourceName     = "DUGA"
	DefaultBaseURL = "https://affapi.duga.jp"

	apiVersion      = "1.2"
	maxHits         = 100
	quotaMax        = 60
	quotaPeriod     = 60 * time.Second
	defaultSort     = "new"
	affiliateURL    = "https://click.duga.jp/"
	catalogEstimate = 150000
)

var fieldMap = sources.FieldMap{
	LocalID:      []string{"productid", "item.productid"},
	Title:        []string{"title", "item.title", "originaltitle"},
	Description:  []string{"caption", "item.caption"},
	ReleaseDate:  []string{"releasedate", "opendate", "item.releasedate"},
	Duration:     []string{"volume", "item.volume"},
	Thumbnail:    []string{"posterimage.#.large", "jacketimage.#.large", "thumbnail.#.image"},
	SampleImages: []string{"samplepicture.#.image", "thumbnail.#.image"},
	SampleVideos: []string{"samplemovie.#.midium.movie", "samplemovie.#.movie"},
	Price:        []string{"price", "saletype.#.data.price"},
	SalePrice:    []string{"saleprice", "sale.price"},
	SaleContext:  []string{"saletype.#.data.type", "sale.type"},
	Performers:   []string{"performer.#.data.name", "performer.#.name"},
	Genres:       []string{"category.#.data.name", "category.#.name"},
	AffiliateURL: []string{"affiliateurl", "url"},
}

// Adapter implements sources.CatalogSource for the DUGA API
type Adapter struct {
	baseURL     string
	client      *fetch.Client
	credentials map[string]string
	now         func() time.Time
}

// New creates a DUGA adapter. The sliding-window quota is owned by the
// adapter so it holds across runs.
func New(baseURL string, timeout time.Duration) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		client: fetch.New(fetch.Options{
			Timeout: timeout,
			Quota:   ratelimit.New(quotaMax, quotaPeriod),
		}),
		credentials: make(map[string]string),
		now:         time.Now,
	}
}

// ID returns the source identifier
func (a *Adapter) ID() string {
	return SourceID
}

// Name returns the human-readable source name
func (a *Adapter) Name() string {
	return SourceName
}

func (a *Adapter) DefaultSchedule() string {
	return "15 */6 * * *"
}

// CredentialFields returns the required credential fields
func (a *Adapter) CredentialFields() []sources.CredentialField {
	return []sources.CredentialField{
		{
			Key:      "app_id",
			Label:    "Application ID",
			Type:     "text",
			Required: true,
			HelpText: "DUGA web service application id",
		},
		{
			Key:      "agent_id",
			Label:    "Agent ID",
			Type:     "text",
			Required: true,
			HelpText: "Affiliate agent id used for affiliate links",
		},
		{
			Key:      "banner_id",
			Label:    "Banner ID",
			Type:     "text",
			HelpText: "Optional banner id, defaults to 01",
		},
	}
}

// SetCredentials sets the credentials for the adapter
func (a *Adapter) SetCredentials(creds map[string]string) {
	a.credentials = creds
}

// ValidateCredentials issues a one-item search.
func (a *Adapter) ValidateCredentials(ctx context.Context) error {
	if _, err := a.query(ctx, sources.SearchParams{Limit: 1}); err != nil {
		return err
	}
	return nil
}

// DataOrigin tags ingested items as coming from the API.
func (a *Adapter) DataOrigin() string {
	return "api"
}

// Search runs a catalog query and normalises every item.
func (a *Adapter) Search(ctx context.Context, params sources.SearchParams) (*sources.SearchResult, error) {
	batch, err := a.query(ctx, params)
	if err != nil {
		return nil, err
	}
	return sources.NormalizeBatch(batch, a.ParseItem)
}

// RecentItems lists the newest items.
func (a *Adapter) RecentItems(ctx context.Context, limit, offset int) (*sources.SearchResult, error) {
	return a.Search(ctx, sources.SearchParams{Sort: defaultSort, Limit: limit, Offset: offset})
}

// FetchBatch returns one page of the newest items.
func (a *Adapter) FetchBatch(ctx context.Context, params sources.ListParams) (*sources.Batch, error) {
	return a.query(ctx, sources.SearchParams{Sort: defaultSort, Limit: params.Limit, Offset: params.Offset})
}

// ParseItem maps one raw API item into a ProductInfo.
func (a *Adapter) ParseItem(item sources.BatchItem) (*sources.ProductInfo, error) {
	p, err := fieldMap.NormalizeAt(SourceID, item.Raw, a.now())
	if err != nil {
		return nil, err
	}
	if p.AffiliateURL == "" && a.credentials["agent_id"] != "" {
		p.AffiliateURL = affiliateURL + p.LocalID + "/" + a.credentials["agent_id"]
	}
	return p, nil
}

// TotalStrategy reads the API's count field.
func (a *Adapter) TotalStrategy() estimator.Strategy {
	return estimator.APICount("DUGA API", func(ctx context.Context) (int, error) {
		batch, err := a.query(ctx, sources.SearchParams{Limit: 1})
		if err != nil {
			return 0, err
		}
		return batch.TotalCount, nil
	})
}

// FallbackEstimate is reported until a live count succeeds.
func (a *Adapter) FallbackEstimate() int { return catalogEstimate }

func (a *Adapter) query(ctx context.Context, params sources.SearchParams) (*sources.Batch, error) {
	if err := sources.RequireCredentials(a.CredentialFields(), a.credentials); err != nil {
		return nil, sources.NewAdapterError(sources.ErrCodeInvalidConfig, "DUGA credentials not configured", err)
	}

	limit := params.Limit
	if limit <= 0 || limit > maxHits {
		limit = maxHits
	}
	q := url.Values{}
	q.Set("version", apiVersion)
	q.Set("appid", a.credentials["app_id"])
	q.Set("agentid", a.credentials["agent_id"])
	q.Set("bannerid", bannerID(a.credentials))
	q.Set("format", "json")
	q.Set("adult", "1")
	q.Set("hits", strconv.Itoa(limit))
	// the API counts from 1
	q.Set("offset", strconv.Itoa(params.Offset+1))
	if params.Sort != "" {
		q.Set("sort", params.Sort)
	}
	if params.Keyword != "" {
		q.Set("keyword", params.Keyword)
	}
	for _, id := range params.IDs {
		q.Add("productid", id)
	}

	resp, err := a.client.Get(ctx, fetch.Request{URL: a.baseURL + "/search?" + q.Encode(), Charset: "utf-8"})
	if err != nil {
		return nil, sources.WrapAPIError("DUGA search failed", err)
	}
	if !gjson.ValidBytes(resp.Body) {
		return nil, sources.NewAdapterError(sources.ErrCodeParse, "DUGA returned invalid JSON", nil)
	}
	doc := gjson.ParseBytes(resp.Body)
	if msg := doc.Get("error.message").String(); msg != "" {
		return nil, sources.NewAdapterError(sources.ErrCodeAuth, "DUGA rejected the request: "+msg, nil)
	}

	batch := &sources.Batch{TotalCount: int(doc.Get("count").Int())}
	doc.Get("items").ForEach(func(_, v gjson.Result) bool {
		obj := v
		if inner := v.Get("item"); inner.IsObject() {
			obj = inner
		}
		id := obj.Get("productid").String()
		if id == "" {
			return true
		}
		batch.Items = append(batch.Items, sources.BatchItem{
			LocalID: id,
			URL:     obj.Get("url").String(),
			Raw:     []byte(obj.Raw),
		})
		return true
	})
	return batch, nil
}

func bannerID(creds map[string]string) string {
	if id := creds["banner_id"]; id != "" {
		return id
	}
	return "01"
}
