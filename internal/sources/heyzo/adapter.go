// Package heyzo scrapes HEYZO. Detail pages carry a JSON-LD VideoObject,
// with the HTML info table as fallback. Ids are sequential numbers.
package heyzo

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/catalog-dev/catalog-ingest/internal/estimator"
	"github.com/catalog-dev/catalog-ingest/internal/fetch"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
	"github.com/catalog-dev/catalog-ingest/internal/sources/scrape"
)

const (
	SourceID       = "heyzo"
	DefaultBaseURL = "https://www.heyzo.com"

	maxListPages = 10
	infoRow      = "table.movieInfo tr"

	// maxIDRange bounds one StartID..EndID run.
	maxIDRange      = 10000
	catalogEstimate = 3500
)

var (
	reMovieID = regexp.MustCompile(`/moviepages/(\d{4})/`)

	detectors = []scrape.Detector{
		scrape.RedirectedAway(),
		scrape.HomeMarker(`id="top-movie-list"`),
		scrape.MissingElement(`script[type="application/ld+json"]`, "table.movieInfo"),
		scrape.PlaceholderTitle(func(d *scrape.Doc) string {
			return scrape.First(d, jsonLD("name"), scrape.Text("#movie h1"))
		}),
	}
)

// Adapter implements sources.DetailSource for HEYZO
type Adapter struct {
	scrape.Site
}

func New(baseURL string, timeout time.Duration) *Adapter {
	return &Adapter{Site: scrape.Site{
		SiteID:   SourceID,
		SiteName: "HEYZO",
		Schedule: "40 3 * * *",
		BaseURL:  baseURL,
		Client:   fetch.New(fetch.Options{Timeout: timeout}),
	}}
}

func (a *Adapter) listURL(page int) string {
	return fmt.Sprintf("%s/listpages/all_%d.html", a.BaseURL, page)
}

// ListIDs enumerates StartID..EndID when a range is given, otherwise walks
// the newest-first listing.
func (a *Adapter) ListIDs(ctx context.Context, params sources.ListParams) ([]string, error) {
	if params.StartID != "" || params.EndID != "" {
		return idRange(params)
	}
	return a.CollectIDs(ctx, a.listURL, reMovieID, params, maxListPages)
}

func idRange(params sources.ListParams) ([]string, error) {
	start, err1 := strconv.Atoi(params.StartID)
	end, err2 := strconv.Atoi(params.EndID)
	if err1 != nil || err2 != nil || start < 0 || start > end {
		return nil, sources.NewAdapterError(sources.ErrCodeInvalidConfig,
			fmt.Sprintf("invalid id range %q..%q", params.StartID, params.EndID), nil)
	}
	if end-start >= maxIDRange {
		return nil, sources.NewAdapterError(sources.ErrCodeInvalidConfig,
			fmt.Sprintf("id range %q..%q spans more than %d ids", params.StartID, params.EndID, maxIDRange), nil)
	}
	ids := make([]string, 0, end-start+1)
	for n := end; n >= start; n-- {
		ids = append(ids, fmt.Sprintf("%04d", n))
	}
	return scrape.Window(ids, sources.ListParams{Offset: params.Offset, Limit: params.Limit}), nil
}

func (a *Adapter) detailURL(localID string) string {
	return a.BaseURL + "/moviepages/" + localID + "/index.html"
}

func (a *Adapter) FetchDetail(ctx context.Context, localID string) (*sources.Page, error) {
	return a.FetchPage(ctx, localID, fetch.Request{URL: a.detailURL(localID)})
}

func (a *Adapter) ParseDetail(page *sources.Page) (*sources.ProductInfo, error) {
	d, err := scrape.Parse(page.Body, page.FinalURL)
	if err != nil {
		return nil, sources.NewAdapterError(sources.ErrCodeParse, "parse HEYZO page", err)
	}
	if err := scrape.Classify(page, d, detectors...); err != nil {
		return nil, err
	}
	ld := gjson.ParseBytes(d.JSONLD("VideoObject"))

	title := scrape.First(d, jsonLD("name"), scrape.Text("#movie h1"))
	p := &sources.ProductInfo{
		SourceID:    SourceID,
		LocalID:     page.LocalID,
		Title:       title,
		Description: scrape.First(d, jsonLD("description"), scrape.Text("p.memo")),
		ThumbnailURL: scrape.First(d,
			func(d *scrape.Doc) string { return d.Resolve(firstOf(ld.Get("thumbnailUrl"))) },
			scrape.MetaURL("og:image"),
		),
		SampleVideoURLs: scrape.FirstList(d, func(*scrape.Doc) []string { return stringsOf(ld.Get("contentUrl")) }),
		SampleImageURLs: scrape.FirstList(d, scrape.Attrs(".sample-images a", "href")),
		Genres: scrape.FirstList(d,
			func(*scrape.Doc) []string { return stringsOf(ld.Get("genre")) },
			scrape.LabeledTexts(infoRow, "td.table-title", "td:nth-child(2)", "タグキーワード"),
		),
		AffiliateURL: a.detailURL(page.LocalID),
	}
	if v := scrape.First(d,
		jsonLD("dateCreated"),
		jsonLD("uploadDate"),
		scrape.Labeled(infoRow, "td.table-title", "td:nth-child(2)", "公開日"),
	); v != "" {
		p.ReleaseDate, _ = sources.ParseDate(v)
	}
	p.DurationMinutes = sources.ParseMinutes(scrape.First(d,
		jsonLD("duration"),
		scrape.Labeled(infoRow, "td.table-title", "td:nth-child(2)", "再生時間"),
	))
	p.Performers = sources.CleanPerformers(SourceID, title, scrape.FirstList(d,
		func(*scrape.Doc) []string { return namesOf(ld.Get("actor")) },
		scrape.LabeledTexts(infoRow, "td.table-title", "td:nth-child(2)", "出演"),
	))
	return p, nil
}

// TotalStrategy reports the highest id on the first listing page.
func (a *Adapter) TotalStrategy() estimator.Strategy {
	return estimator.MaxID(a.Client, a.listURL(1), reMovieID, "HEYZO listing")
}

// FallbackEstimate is reported until a live count succeeds.
func (a *Adapter) FallbackEstimate() int { return catalogEstimate }

func jsonLD(key string) scrape.Extractor {
	return func(d *scrape.Doc) string {
		raw := d.JSONLD("VideoObject")
		if raw == nil {
			return ""
		}
		return firstOf(gjson.GetBytes(raw, key))
	}
}

func firstOf(r gjson.Result) string {
	if r.IsArray() {
		for _, v := range r.Array() {
			if s := v.String(); s != "" {
				return s
			}
		}
		return ""
	}
	return r.String()
}

func stringsOf(r gjson.Result) []string {
	if !r.Exists() {
		return nil
	}
	if !r.IsArray() {
		return []string{r.String()}
	}
	var out []string
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}

// namesOf reads actor, which may be one Person, a list of them, or plain
// strings.
func namesOf(r gjson.Result) []string {
	var out []string
	add := func(v gjson.Result) {
		if v.IsObject() {
			v = v.Get("name")
		}
		out = append(out, v.String())
	}
	if r.IsArray() {
		for _, v := range r.Array() {
			add(v)
		}
	} else if r.Exists() {
		add(r)
	}
	return out
}
