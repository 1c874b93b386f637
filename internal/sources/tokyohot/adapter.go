// Package tokyohot scrapes Tokyo-Hot product pages.
package tokyohot

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/catalog-dev/catalog-ingest/internal/estimator"
	"github.com/catalog-dev/catalog-ingest/internal/fetch"
	"github.com/catalog-dev/catalog-ingest/internal/pricing"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
	"github.com/catalog-dev/catalog-ingest/internal/sources/scrape"
)

const (
	SourceID       = "tokyohot"
	DefaultBaseURL = "https://my.tokyo-hot.com"

	maxListPages    = 10
	catalogEstimate = 9500
	infoRow         = "dl.info dt"
)

var (
	reProductID = regexp.MustCompile(`/product/([a-z0-9_\-]+)/`)
	reListOnly  = regexp.MustCompile(`^(?:商品一覧|Product List)`)

	detectors = []scrape.Detector{
		scrape.RedirectedAway(),
		scrape.HomeMarker(`id="top_slider"`),
		scrape.MissingElement("#main .contents h2", "dl.info"),
		scrape.PlaceholderTitle(scrape.Text("#main .contents h2"), reListOnly),
	}
)

// Adapter implements sources.DetailSource for Tokyo-Hot
type Adapter struct {
	scrape.Site
	now func() time.Time
}

func New(baseURL string, timeout time.Duration) *Adapter {
	return &Adapter{
		Site: scrape.Site{
			SiteID:   SourceID,
			SiteName: "Tokyo-Hot",
			Schedule: "50 3 * * *",
			BaseURL:  baseURL,
			Client:   fetch.New(fetch.Options{Timeout: timeout}),
		},
		now: time.Now,
	}
}

func (a *Adapter) ListIDs(ctx context.Context, params sources.ListParams) ([]string, error) {
	return a.CollectIDs(ctx, func(page int) string {
		return fmt.Sprintf("%s/product/?page=%d&lang=ja", a.BaseURL, page)
	}, reProductID, params, maxListPages)
}

func (a *Adapter) FetchDetail(ctx context.Context, localID string) (*sources.Page, error) {
	return a.FetchPage(ctx, localID, fetch.Request{URL: a.BaseURL + "/product/" + localID + "/?lang=ja"})
}

func (a *Adapter) ParseDetail(page *sources.Page) (*sources.ProductInfo, error) {
	d, err := scrape.Parse(page.Body, page.FinalURL)
	if err != nil {
		return nil, sources.NewAdapterError(sources.ErrCodeParse, "parse Tokyo-Hot page", err)
	}
	if err := scrape.Classify(page, d, detectors...); err != nil {
		return nil, err
	}

	title := scrape.First(d, scrape.Text("#main .contents h2"), scrape.Meta("og:title"))
	p := &sources.ProductInfo{
		SourceID:    SourceID,
		LocalID:     page.LocalID,
		Title:       title,
		Description: scrape.First(d, scrape.Text("#main .contents .sentence"), scrape.Meta("description")),
		ThumbnailURL: scrape.First(d,
			scrape.Attr("video", "poster"),
			scrape.MetaURL("og:image"),
		),
		SampleImageURLs: scrape.FirstList(d,
			scrape.Attrs(".scap a", "href"),
			scrape.Attrs(".vcap a", "href"),
		),
		SampleVideoURLs: scrape.FirstList(d, scrape.Attrs("video source", "src")),
		Genres: scrape.FirstList(d,
			scrape.LabeledTexts(infoRow, "", "", "タグ"),
			scrape.LabeledTexts(infoRow, "", "", "プレイ内容"),
		),
		AffiliateURL: page.URL,
	}
	if v := scrape.First(d, scrape.Labeled(infoRow, "", "", "配信開始日")); v != "" {
		p.ReleaseDate, _ = sources.ParseDate(v)
	}
	p.DurationMinutes = sources.ParseMinutes(scrape.First(d, scrape.Labeled(infoRow, "", "", "収録時間")))
	p.Performers = sources.CleanPerformers(SourceID, title,
		scrape.FirstList(d, scrape.LabeledTexts(infoRow, "", "", "出演者")))

	p.Price, p.Sale = pricing.ExtractFromText(scrape.First(d, scrape.Text(".price-box"), scrape.Text(".price")), a.now())
	return p, nil
}

func (a *Adapter) TotalStrategy() estimator.Strategy {
	return estimator.Static("Tokyo-Hot", catalogEstimate)
}

// FallbackEstimate is reported until a live count succeeds.
func (a *Adapter) FallbackEstimate() int { return catalogEstimate }
