// Package dti ingests the 1pondo / 10musume / pacopacomama family. The
// sites share one JSON backend: a newest-first list endpoint and a per
// movie details document.
package dti

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/catalog-dev/catalog-ingest/internal/estimator"
	"github.com/catalog-dev/catalog-ingest/internal/fetch"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
	"github.com/catalog-dev/catalog-ingest/internal/sources/scrape"
)

// Variant describes one site of the family.
type Variant struct {
	ID       string
	Name     string
	BaseURL  string
	Schedule string
	Estimate int
}

var (
	Ippondo = Variant{
		ID:       "1pondo",
		Name:     "一本道",
		BaseURL:  "https://www.1pondo.tv",
		Schedule: "5 4 * * *",
		Estimate: 3200,
	}
	Jukkumusume = Variant{
		ID:       "10musume",
		Name:     "天然むすめ",
		BaseURL:  "https://www.10musume.com",
		Schedule: "15 4 * * *",
		Estimate: 2600,
	}
	Pacopacomama = Variant{
		ID:       "pacopacomama",
		Name:     "パコパコママ",
		BaseURL:  "https://www.pacopacomama.com",
		Schedule: "25 4 * * *",
		Estimate: 1900,
	}
)

const listPageSize = 50

var fieldMap = sources.FieldMap{
	LocalID:      []string{"MovieID", "MetaMovieID"},
	Title:        []string{"Title", "TitleEn"},
	Description:  []string{"Desc", "DescEn"},
	ReleaseDate:  []string{"Release", "AvailableFrom"},
	Thumbnail:    []string{"ThumbHigh", "ThumbUltra", "ThumbMed", "MovieThumb"},
	SampleImages: []string{"Gallery.#.Img", "SampleImages"},
	SampleVideos: []string{"SampleFiles.#.URL"},
	Price:        []string{"Price"},
	Performers:   []string{"ActressesJa", "Actor"},
	Genres:       []string{"UCNAME", "UC"},
}

// Adapter implements sources.DetailSource for one site of the family
type Adapter struct {
	scrape.Site
	variant Variant
	now     func() time.Time
}

// New creates an adapter for v. An empty baseURL uses the variant's site.
func New(v Variant, baseURL string, timeout time.Duration) *Adapter {
	if baseURL == "" {
		baseURL = v.BaseURL
	}
	return &Adapter{
		Site: scrape.Site{
			SiteID:   v.ID,
			SiteName: v.Name,
			Schedule: v.Schedule,
			BaseURL:  baseURL,
			Client:   fetch.New(fetch.Options{Timeout: timeout}),
		},
		variant: v,
		now:     time.Now,
	}
}

// ListIDs pages through the newest list. Its pages are offset based, so
// params.Offset maps onto the endpoint directly.
func (a *Adapter) ListIDs(ctx context.Context, params sources.ListParams) ([]string, error) {
	var ids []string
	offset := params.Offset
	for {
		url := fmt.Sprintf("%s/dyn/phpauto/movie_lists/list_newest_%d.json", a.BaseURL, offset)
		resp, err := a.Client.Get(ctx, fetch.Request{URL: url, Charset: "utf-8"})
		if err != nil {
			if len(ids) > 0 {
				break
			}
			return nil, sources.WrapFetchError("fetch "+a.variant.ID+" list", err)
		}
		doc := gjson.ParseBytes(resp.Body)
		rows := doc.Get("Rows.#.MovieID").Array()
		for _, r := range rows {
			if id := r.String(); id != "" {
				ids = append(ids, id)
			}
		}
		offset += len(rows)
		total := int(doc.Get("TotalRows").Int())
		if len(rows) == 0 || offset >= total || (params.Limit > 0 && len(ids) >= params.Limit) {
			break
		}
	}
	return scrape.Window(ids, sources.ListParams{Limit: params.Limit}), nil
}

func (a *Adapter) detailURL(localID string) string {
	return a.BaseURL + "/dyn/phpauto/movie_details/movie_id/" + localID + ".json"
}

func (a *Adapter) FetchDetail(ctx context.Context, localID string) (*sources.Page, error) {
	return a.FetchPage(ctx, localID, fetch.Request{URL: a.detailURL(localID), Charset: "utf-8"})
}

// ParseDetail normalises the details document. An empty or id-less
// document is what the backend serves for unknown ids.
func (a *Adapter) ParseDetail(page *sources.Page) (*sources.ProductInfo, error) {
	if page.Redirected {
		return nil, sources.NotAProduct(page.LocalID, "redirect")
	}
	if !gjson.ValidBytes(page.Body) {
		return nil, sources.NewAdapterError(sources.ErrCodeParse, "invalid details JSON", nil)
	}
	if sources.Lookup(page.Body, fieldMap.LocalID...) == "" {
		return nil, sources.NotAProduct(page.LocalID, "empty_document")
	}
	p, err := fieldMap.NormalizeAt(a.variant.ID, page.Body, a.now())
	if err != nil {
		return nil, err
	}
	if sources.IsPlaceholderTitle(p.Title) {
		return nil, sources.NotAProduct(page.LocalID, "placeholder_title")
	}
	// Duration is in seconds
	if secs := gjson.GetBytes(page.Body, "Duration").Int(); secs > 0 {
		p.DurationMinutes = int((secs + 30) / 60)
	}
	p.AffiliateURL = a.BaseURL + "/movies/" + p.LocalID + "/"
	return p, nil
}

func (a *Adapter) TotalStrategy() estimator.Strategy {
	return estimator.Static(a.variant.Name, a.variant.Estimate)
}

// FallbackEstimate is reported until a live count succeeds.
func (a *Adapter) FallbackEstimate() int { return a.variant.Estimate }
