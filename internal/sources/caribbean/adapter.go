// Package caribbean scrapes the Caribbeancom family of sites, which share
// one EUC-JP page layout and differ in domain and id shape.
package caribbean

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/catalog-dev/catalog-ingest/internal/estimator"
	"github.com/catalog-dev/catalog-ingest/internal/fetch"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
	"github.com/catalog-dev/catalog-ingest/internal/sources/scrape"
)

// Variant describes one site of the family.
type Variant struct {
	ID        string
	Name      string
	BaseURL   string
	Schedule  string
	IDPattern *regexp.Regexp
	Estimate  int
}

var (
	Caribbeancom = Variant{
		ID:        "caribbeancom",
		Name:      "カリビアンコム",
		BaseURL:   "https://www.caribbeancom.com",
		Schedule:  "10 3 * * *",
		IDPattern: regexp.MustCompile(`/moviepages/(\d{6}-\d{3})/`),
		Estimate:  4200,
	}
	CaribbeancomPR = Variant{
		ID:        "caribbeancompr",
		Name:      "カリビアンコムプレミアム",
		BaseURL:   "https://www.caribbeancompr.com",
		Schedule:  "20 3 * * *",
		IDPattern: regexp.MustCompile(`/moviepages/(\d{6}_\d{3})/`),
		Estimate:  3300,
	}
)

const (
	maxListPages = 10
	specRow      = "li.movie-spec"
)

var reBoilerplate = regexp.MustCompile(`^(?:カリビアンコム|カリビアンコムプレミアム)は.*(?:無修正|動画)`)

// Adapter implements sources.DetailSource for one Caribbeancom variant
type Adapter struct {
	scrape.Site
	variant   Variant
	detectors []scrape.Detector
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
		detectors: []scrape.Detector{
			scrape.RedirectedAway(),
			scrape.HomeMarker(`id="top-slider"`, `class="top-page"`),
			scrape.MissingElement("#moviepages", "h1[itemprop=name]"),
			scrape.PlaceholderTitle(scrape.Text("h1[itemprop=name]")),
			scrape.Boilerplate(scrape.Text("p[itemprop=description]"), reBoilerplate),
		},
	}
}

func (a *Adapter) ListIDs(ctx context.Context, params sources.ListParams) ([]string, error) {
	return a.CollectIDs(ctx, func(page int) string {
		return fmt.Sprintf("%s/listpages/all%d.htm", a.BaseURL, page)
	}, a.variant.IDPattern, params, maxListPages)
}

func (a *Adapter) detailURL(localID string) string {
	return a.BaseURL + "/moviepages/" + localID + "/index.html"
}

func (a *Adapter) FetchDetail(ctx context.Context, localID string) (*sources.Page, error) {
	return a.FetchPage(ctx, localID, fetch.Request{URL: a.detailURL(localID), Charset: "euc-jp"})
}

func (a *Adapter) ParseDetail(page *sources.Page) (*sources.ProductInfo, error) {
	d, err := scrape.Parse(page.Body, page.FinalURL)
	if err != nil {
		return nil, sources.NewAdapterError(sources.ErrCodeParse, "parse "+a.variant.ID+" page", err)
	}
	if err := scrape.Classify(page, d, a.detectors...); err != nil {
		return nil, err
	}

	title := scrape.First(d, scrape.Text("h1[itemprop=name]"), scrape.Meta("og:title"))
	p := &sources.ProductInfo{
		SourceID:    a.variant.ID,
		LocalID:     page.LocalID,
		Title:       title,
		Description: scrape.First(d, scrape.Text("p[itemprop=description]"), scrape.Meta("description")),
		ThumbnailURL: scrape.First(d,
			scrape.MetaURL("og:image"),
			scrape.Attr(`link[itemprop=thumbnailUrl]`, "href"),
			func(*scrape.Doc) string { return a.BaseURL + "/moviepages/" + page.LocalID + "/images/l_l.jpg" },
		),
		SampleImageURLs: scrape.FirstList(d,
			scrape.Attrs(".gallery .fancy-gallery", "href"),
			scrape.Attrs(".gallery img", "src"),
		),
		SampleVideoURLs: scrape.FirstList(d, scrape.Attrs(`meta[itemprop=contentURL]`, "content")),
		Genres:          scrape.FirstList(d, scrape.LabeledTexts(specRow, ".spec-title", ".spec-content", "タグ", "カテゴリー")),
		AffiliateURL:    a.detailURL(page.LocalID),
	}
	if v := scrape.First(d,
		scrape.Attr("[itemprop=uploadDate]", "content"),
		scrape.Labeled(specRow, ".spec-title", ".spec-content", "配信日", "販売日"),
	); v != "" {
		p.ReleaseDate, _ = sources.ParseDate(v)
	}
	p.DurationMinutes = sources.ParseMinutes(scrape.First(d,
		scrape.Labeled(specRow, ".spec-title", ".spec-content", "再生時間"),
		scrape.Attr("[itemprop=duration]", "content"),
	))
	p.Performers = sources.CleanPerformers(a.variant.ID, title,
		scrape.FirstList(d,
			scrape.Texts(`a[itemprop=actor] [itemprop=name]`),
			scrape.LabeledTexts(specRow, ".spec-title", ".spec-content", "出演"),
		))
	return p, nil
}

func (a *Adapter) TotalStrategy() estimator.Strategy {
	return estimator.Static(a.variant.Name, a.variant.Estimate)
}

// FallbackEstimate is reported until a live count succeeds.
func (a *Adapter) FallbackEstimate() int { return a.variant.Estimate }
