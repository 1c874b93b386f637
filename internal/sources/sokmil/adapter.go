// Package sokmil ingests the Sokmil affiliate API. Performer readings come
// from a second endpoint and are only fetched when enrichment is requested.
package sokmil

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/catalog-dev/catalog-ingest/internal/estimator"
	"github.com/catalog-dev/catalog-ingest/internal/fetch"
	"github.com/catalog-dev/catalog-ingest/internal/names"
	"github.com/catalog-dev/catalog-ingest/internal/ratelimit"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

const (
	SourceID       = "sokmil"
	SourceName     = "Sokmil"
	DefaultBaseURL = "https://sokmil-ad.com/api/v1"

	maxHits         = 100
	quotaMax        = 60
	quotaPeriod     = 60 * time.Second
	catalogEstimate = 90000
)

var fieldMap = sources.FieldMap{
	LocalID:      []string{"id", "item_id"},
	Title:        []string{"title"},
	Description:  []string{"comment", "description", "iteminfo.comment"},
	ReleaseDate:  []string{"date", "release_date"},
	Duration:     []string{"volume", "iteminfo.volume"},
	Thumbnail:    []string{"imageURL.large", "imageURL.list", "imageURL.small"},
	SampleImages: []string{"sampleImageURL.sample_l.image", "sampleImageURL.sample_s.image"},
	SampleVideos: []string{"sampleMovieURL.size_720_480", "sampleMovieURL.size_560_360", "sampleMovieURL.size_476_306"},
	Price:        []string{"prices.list_price", "prices.price"},
	SalePrice:    []string{"prices.sale_price", "prices.price"},
	SaleContext:  []string{"campaign.#.title", "prices.sale_label"},
	Performers:   []string{"iteminfo.actor", "iteminfo.actress"},
	Genres:       []string{"iteminfo.genre", "iteminfo.keyword"},
	AffiliateURL: []string{"affiliateURL", "URL"},
}

// Adapter implements sources.CatalogSource and sources.Enricher for Sokmil
type Adapter struct {
	baseURL     string
	client      *fetch.Client
	credentials map[string]string
	now         func() time.Time
}

// New creates a Sokmil adapter.
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

func (a *Adapter) ID() string              { return SourceID }
func (a *Adapter) Name() string            { return SourceName }
func (a *Adapter) DefaultSchedule() string { return "45 */6 * * *" }

func (a *Adapter) CredentialFields() []sources.CredentialField {
	return []sources.CredentialField{
		{Key: "api_key", Label: "API Key", Type: "password", Required: true},
		{Key: "affiliate_id", Label: "Affiliate ID", Type: "text", Required: true},
	}
}

func (a *Adapter) SetCredentials(creds map[string]string) {
	a.credentials = creds
}

func (a *Adapter) ValidateCredentials(ctx context.Context) error {
	_, err := a.query(ctx, "Item", url.Values{"hits": {"1"}})
	return err
}

func (a *Adapter) DataOrigin() string { return "api" }

// Search runs an item query and normalises every item.
func (a *Adapter) Search(ctx context.Context, params sources.SearchParams) (*sources.SearchResult, error) {
	batch, err := a.items(ctx, params)
	if err != nil {
		return nil, err
	}
	return sources.NormalizeBatch(batch, a.ParseItem)
}

// RecentItems lists the newest items.
func (a *Adapter) RecentItems(ctx context.Context, limit, offset int) (*sources.SearchResult, error) {
	return a.Search(ctx, sources.SearchParams{Sort: "date", Limit: limit, Offset: offset})
}

func (a *Adapter) FetchBatch(ctx context.Context, params sources.ListParams) (*sources.Batch, error) {
	return a.items(ctx, sources.SearchParams{Sort: "date", Limit: params.Limit, Offset: params.Offset})
}

func (a *Adapter) ParseItem(item sources.BatchItem) (*sources.ProductInfo, error) {
	p, err := fieldMap.NormalizeAt(SourceID, item.Raw, a.now())
	if err != nil {
		return nil, err
	}
	for i, perf := range p.Performers {
		p.Performers[i].ExternalID = actorID(item.Raw, perf.Name)
	}
	return p, nil
}

// Enrich looks up the reading of every performer without one.
func (a *Adapter) Enrich(ctx context.Context, p *sources.ProductInfo) error {
	for i := range p.Performers {
		perf := &p.Performers[i]
		if perf.Reading != "" {
			continue
		}
		q := url.Values{"hits": {"1"}}
		if perf.ExternalID != "" {
			q.Set("id", perf.ExternalID)
		} else {
			q.Set("keyword", perf.Name)
		}
		doc, err := a.query(ctx, "Actor", q)
		if err != nil {
			return err
		}
		actor := doc.Get("result.items.0")
		if !actor.Exists() || names.Key(actor.Get("name").String()) != names.Key(perf.Name) {
			continue
		}
		perf.Reading = strings.TrimSpace(actor.Get("ruby").String())
		if perf.ExternalID == "" {
			perf.ExternalID = actor.Get("id").String()
		}
	}
	return nil
}

// TotalStrategy reads total_count of an unfiltered item query.
func (a *Adapter) TotalStrategy() estimator.Strategy {
	return estimator.APICount("Sokmil API", func(ctx context.Context) (int, error) {
		batch, err := a.items(ctx, sources.SearchParams{Limit: 1})
		if err != nil {
			return 0, err
		}
		return batch.TotalCount, nil
	})
}

// FallbackEstimate is reported until a live count succeeds.
func (a *Adapter) FallbackEstimate() int { return catalogEstimate }

func (a *Adapter) items(ctx context.Context, params sources.SearchParams) (*sources.Batch, error) {
	limit := params.Limit
	if limit <= 0 || limit > maxHits {
		limit = maxHits
	}
	q := url.Values{}
	q.Set("hits", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(params.Offset+1))
	if params.Sort != "" {
		q.Set("sort", params.Sort)
	}
	if params.Keyword != "" {
		q.Set("keyword", params.Keyword)
	}
	if len(params.IDs) > 0 {
		q.Set("id", strings.Join(params.IDs, ","))
	}

	doc, err := a.query(ctx, "Item", q)
	if err != nil {
		return nil, err
	}
	batch := &sources.Batch{TotalCount: int(doc.Get("result.total_count").Int())}
	doc.Get("result.items").ForEach(func(_, v gjson.Result) bool {
		id := v.Get("id").String()
		if id == "" {
			return true
		}
		batch.Items = append(batch.Items, sources.BatchItem{
			LocalID: id,
			URL:     v.Get("URL").String(),
			Raw:     []byte(v.Raw),
		})
		return true
	})
	return batch, nil
}

func (a *Adapter) query(ctx context.Context, endpoint string, q url.Values) (gjson.Result, error) {
	if err := sources.RequireCredentials(a.CredentialFields(), a.credentials); err != nil {
		return gjson.Result{}, sources.NewAdapterError(sources.ErrCodeInvalidConfig, "Sokmil credentials not configured", err)
	}
	q.Set("api_key", a.credentials["api_key"])
	q.Set("affiliate_id", a.credentials["affiliate_id"])
	q.Set("output", "json")

	resp, err := a.client.Get(ctx, fetch.Request{URL: a.baseURL + "/" + endpoint + "?" + q.Encode(), Charset: "utf-8"})
	if err != nil {
		return gjson.Result{}, sources.WrapAPIError("Sokmil "+endpoint+" request failed", err)
	}
	if !gjson.ValidBytes(resp.Body) {
		return gjson.Result{}, sources.NewAdapterError(sources.ErrCodeParse, "Sokmil returned invalid JSON", nil)
	}
	doc := gjson.ParseBytes(resp.Body)
	switch status := doc.Get("result.status").String(); status {
	case "", "200":
	case "401", "403":
		return gjson.Result{}, sources.NewAdapterError(sources.ErrCodeAuth, "Sokmil rejected the API key", nil)
	default:
		return gjson.Result{}, sources.NewAdapterError(sources.ErrCodeNetwork, "Sokmil returned status "+status+": "+doc.Get("result.message").String(), nil)
	}
	return doc, nil
}

func actorID(raw []byte, name string) string {
	id := ""
	key := names.Key(name)
	gjson.GetBytes(raw, "iteminfo.actor").ForEach(func(_, v gjson.Result) bool {
		if names.Key(v.Get("name").String()) == key {
			id = v.Get("id").String()
			return false
		}
		return true
	})
	return id
}
