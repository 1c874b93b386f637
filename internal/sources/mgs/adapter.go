// Package mgs scrapes MGS動画. Detail pages sit behind an age confirmation
// cookie and are fetched in one session so every request carries the
// listing page as Referer.
package mgs

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/catalog-dev/catalog-ingest/internal/estimator"
	"github.com/catalog-dev/catalog-ingest/internal/fetch"
	"github.com/catalog-dev/catalog-ingest/internal/pricing"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
	"github.com/catalog-dev/catalog-ingest/internal/sources/scrape"
)

const (
	SourceID       = "mgs"
	DefaultBaseURL = "https://www.mgstage.com"

	listPageSize    = 120
	maxListPages    = 20
	catalogEstimate = 120000
)

var (
	reDetailID = regexp.MustCompile(`/product/product_detail/([A-Za-z0-9]+-[A-Za-z0-9]+)/`)
	reNoImage  = regexp.MustCompile(`(?i)now_printing|noimage`)

	detectors = []scrape.Detector{
		scrape.RedirectedAway(),
		scrape.AgeGate("aventry.php", "年齢認証"),
		scrape.HomeMarker(`id="top_page"`, `class="top_main"`),
		scrape.MissingElement(".detail_data table", "#EnlargeImage"),
		scrape.PlaceholderTitle(scrape.Text("h1.tag")),
	}
)

const detailRow = ".detail_data tr"

// Adapter implements sources.DetailSource for MGS動画
type Adapter struct {
	scrape.Site
	now func() time.Time

	mu      sync.Mutex
	session *fetch.Session
}

func New(baseURL string, timeout time.Duration) *Adapter {
	return &Adapter{
		Site: scrape.Site{
			SiteID:   SourceID,
			SiteName: "MGS動画",
			Schedule: "0 2 * * *",
			BaseURL:  baseURL,
			Client:   fetch.New(fetch.Options{Timeout: timeout}),
		},
		now: time.Now,
	}
}

func (a *Adapter) sessionFor() (*fetch.Session, error) {
	if a.session != nil {
		return a.session, nil
	}
	s := a.Client.NewSession()
	if err := s.SetCookies(a.BaseURL, &http.Cookie{Name: "adc", Value: "1", Path: "/"}); err != nil {
		return nil, sources.NewAdapterError(sources.ErrCodeInvalidConfig, "invalid base URL", err)
	}
	a.session = s
	return s, nil
}

func listURL(base string, page int) string {
	return fmt.Sprintf("%s/search/cSearch.php?sort=new&list_cnt=%d&type=top&page=%d", base, listPageSize, page)
}

// ListIDs walks the newest-first search listing.
func (a *Adapter) ListIDs(ctx context.Context, params sources.ListParams) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess, err := a.sessionFor()
	if err != nil {
		return nil, err
	}
	var ids []string
	seen := make(map[string]bool)
	need := params.Offset + params.Limit
	for page := 1; page <= maxListPages; page++ {
		resp, err := sess.Get(ctx, fetch.Request{URL: listURL(a.BaseURL, page)})
		if err != nil {
			if len(ids) > 0 {
				break
			}
			return nil, sources.WrapFetchError("fetch MGS listing", err)
		}
		added := 0
		for _, id := range scrape.UniqueMatches(resp.Body, reDetailID) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
				added++
			}
		}
		if added == 0 || (params.Limit > 0 && len(ids) >= need) {
			break
		}
	}
	return scrape.Window(ids, params), nil
}

// FetchDetail fetches one product page inside the age-confirmed session.
func (a *Adapter) FetchDetail(ctx context.Context, localID string) (*sources.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sess, err := a.sessionFor()
	if err != nil {
		return nil, err
	}
	resp, err := sess.Get(ctx, fetch.Request{
		URL:        a.BaseURL + "/product/product_detail/" + localID + "/",
		NoRedirect: true,
	})
	if err != nil {
		return nil, sources.WrapFetchError("fetch MGS detail "+localID, err)
	}
	return sources.NewPage(localID, resp), nil
}

func (a *Adapter) ParseDetail(page *sources.Page) (*sources.ProductInfo, error) {
	d, err := scrape.Parse(page.Body, page.FinalURL)
	if err != nil {
		return nil, sources.NewAdapterError(sources.ErrCodeParse, "parse MGS page", err)
	}
	if err := scrape.Classify(page, d, detectors...); err != nil {
		return nil, err
	}

	title := scrape.First(d, scrape.Text("h1.tag"), scrape.Meta("og:title"))
	p := &sources.ProductInfo{
		SourceID: SourceID,
		LocalID:  page.LocalID,
		Title:    title,
		Description: scrape.First(d,
			scrape.Text("p.txt.introduction"),
			scrape.Text("#introduction dd p"),
			scrape.Meta("og:description"),
		),
		ThumbnailURL: scrape.First(d,
			scrape.Attr("#EnlargeImage", "href"),
			scrape.Attr("img.enlarge_image", "src"),
			scrape.MetaURL("og:image"),
		),
		SampleImageURLs: scrape.FirstList(d,
			scrape.Attrs("#sample-photo a.sample_image", "href"),
			scrape.Attrs("#sample-photo img", "src"),
		),
		SampleVideoURLs: scrape.FirstList(d, scrape.Attrs("a.button_sample", "href")),
		Genres:          scrape.FirstList(d, scrape.LabeledTexts(detailRow, "th", "td", "ジャンル")),
		AffiliateURL:    page.URL,
	}
	if reNoImage.MatchString(p.ThumbnailURL) {
		p.ThumbnailURL = ""
	}
	if v := scrape.First(d, scrape.Labeled(detailRow, "th", "td", "配信開始日", "商品発売日")); v != "" {
		p.ReleaseDate, _ = sources.ParseDate(v)
	}
	p.DurationMinutes = sources.ParseMinutes(scrape.First(d, scrape.Labeled(detailRow, "th", "td", "収録時間")))

	performers := scrape.FirstList(d, scrape.LabeledTexts(detailRow, "th", "td", "出演"))
	p.Performers = sources.CleanPerformers(SourceID, title, performers)

	p.Price, p.Sale = pricing.Extract(
		scrape.First(d, scrape.Text(".price_list .price_del"), scrape.Text(".price_list del")),
		scrape.First(d, scrape.Text(".price_list .price"), scrape.Text("#download_hd_price")),
		scrape.First(d, scrape.Text(".price_list .sale_info"), scrape.Text(".sale_campaign")),
		a.now(),
	)
	return p, nil
}

func (a *Adapter) TotalStrategy() estimator.Strategy {
	return estimator.Static("MGS", catalogEstimate)
}

// FallbackEstimate is reported until a live count succeeds.
func (a *Adapter) FallbackEstimate() int { return catalogEstimate }
