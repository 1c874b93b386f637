// Package fc2 scrapes FC2コンテンツマーケット detail pages, including the
// time-sale price block.
package fc2

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/catalog-dev/catalog-ingest/internal/estimator"
	"github.com/catalog-dev/catalog-ingest/internal/fetch"
	"github.com/catalog-dev/catalog-ingest/internal/pricing"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
	"github.com/catalog-dev/catalog-ingest/internal/sources/scrape"
)

const (
	SourceID       = "fc2"
	DefaultBaseURL = "https://adult.contents.fc2.com"

	maxListPages    = 10
	header          = ".items_article_headerInfo"
	catalogEstimate = 4500000
)

var (
	reArticleID = regexp.MustCompile(`/article/(\d+)/`)
	reSaleDate  = regexp.MustCompile(`販売日\s*[:：]\s*(\S+)`)

	detectors = []scrape.Detector{
		scrape.RedirectedAway(),
		scrape.AgeGate("年齢認証", "ageauth"),
		scrape.HomeMarker(`class="c-topContents"`, "お探しの商品が見つかりません"),
		scrape.MissingElement(header + " h3"),
		scrape.PlaceholderTitle(scrape.Text(header + " h3")),
	}
)

// Adapter implements sources.DetailSource for FC2
type Adapter struct {
	scrape.Site
	now func() time.Time
}

func New(baseURL string, timeout time.Duration) *Adapter {
	return &Adapter{
		Site: scrape.Site{
			SiteID:   SourceID,
			SiteName: "FC2コンテンツマーケット",
			Schedule: "0 */4 * * *",
			BaseURL:  baseURL,
			Client:   fetch.New(fetch.Options{Timeout: timeout}),
		},
		now: time.Now,
	}
}

func (a *Adapter) listURL(page int) string {
	return fmt.Sprintf("%s/newrelease.php?page=%d", a.BaseURL, page)
}

func (a *Adapter) ListIDs(ctx context.Context, params sources.ListParams) ([]string, error) {
	return a.CollectIDs(ctx, a.listURL, reArticleID, params, maxListPages)
}

func (a *Adapter) FetchDetail(ctx context.Context, localID string) (*sources.Page, error) {
	return a.FetchPage(ctx, localID, fetch.Request{
		URL:     a.BaseURL + "/article/" + localID + "/",
		Cookies: []*http.Cookie{{Name: "wei6H", Value: "1"}, {Name: "language", Value: "ja"}},
	})
}

func (a *Adapter) ParseDetail(page *sources.Page) (*sources.ProductInfo, error) {
	d, err := scrape.Parse(page.Body, page.FinalURL)
	if err != nil {
		return nil, sources.NewAdapterError(sources.ErrCodeParse, "parse FC2 page", err)
	}
	if err := scrape.Classify(page, d, detectors...); err != nil {
		return nil, err
	}

	title := scrape.First(d, scrape.Text(header+" h3"), scrape.Meta("og:title"))
	p := &sources.ProductInfo{
		SourceID:    SourceID,
		LocalID:     page.LocalID,
		Title:       title,
		Description: scrape.First(d, scrape.Text(".items_article_Description .items_article_Contents"), scrape.Meta("og:description")),
		ThumbnailURL: scrape.First(d,
			scrape.Attr(".items_article_MainitemThumb img", "src"),
			scrape.MetaURL("og:image"),
		),
		SampleImageURLs: scrape.FirstList(d, scrape.Attrs(".items_article_SampleImagesArea a", "href")),
		SampleVideoURLs: scrape.FirstList(d, scrape.Attrs(".items_article_SampleVideo video", "src")),
		Genres:          scrape.FirstList(d, scrape.Texts(".items_article_TagArea a.tagTag")),
		AffiliateURL:    page.URL,
	}
	if v := scrape.First(d, scrape.Regex(reSaleDate), scrape.Text(".items_article_Releasedate p")); v != "" {
		p.ReleaseDate, _ = sources.ParseDate(v)
	}
	p.DurationMinutes = sources.ParseMinutes(scrape.First(d,
		scrape.Text(".items_article_MainitemThumb .items_article_info"),
		scrape.Text(".items_article_Duration"),
	))
	p.Performers = sources.CleanPerformers(SourceID, title,
		scrape.FirstList(d, scrape.Texts(".items_article_Performer a"), scrape.Texts(header+" .actress a")))

	block := ".items_article_priceBlock"
	p.Price, p.Sale = pricing.Extract(
		scrape.First(d, scrape.Text(block+" .items_article_priceBefore"), scrape.Text(block+" del")),
		scrape.First(d, scrape.Text(block+" .items_article_price"), scrape.Text(".items_article_Price")),
		scrape.First(d, scrape.Text(block+" .items_article_TimeSale"), scrape.Text(block+" .items_article_campaign")),
		a.now(),
	)
	if p.Price == 0 {
		// some layouts print the whole block as one run of text
		p.Price, p.Sale = pricing.ExtractFromText(scrape.First(d, scrape.Text(block)), a.now())
	}
	return p, nil
}

// TotalStrategy reports the highest article id on the newest listing.
func (a *Adapter) TotalStrategy() estimator.Strategy {
	return estimator.MaxID(a.Client, a.listURL(1), reArticleID, "FC2 listing")
}

// FallbackEstimate is reported until a live count succeeds.
func (a *Adapter) FallbackEstimate() int { return catalogEstimate }
