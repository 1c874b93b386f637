// Package b10f ingests the b10f.jp product CSV dump. The whole catalog is
// one download; batches are windows over the parsed file.
package b10f

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/catalog-dev/catalog-ingest/internal/estimator"
	"github.com/catalog-dev/catalog-ingest/internal/fetch"
	"github.com/catalog-dev/catalog-ingest/internal/names"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

const (
	SourceID       = "b10f"
	SourceName     = "b10f"
	DefaultBaseURL = "https://b10f.jp"

	catalogEstimate = 30000
)

var fieldMap = sources.FieldMap{
	LocalID:      []string{"id", "商品ID", "product_id"},
	Title:        []string{"title", "タイトル"},
	Description:  []string{"caption", "説明", "comment"},
	ReleaseDate:  []string{"release_date", "発売日", "date"},
	Duration:     []string{"time", "収録時間", "duration"},
	Thumbnail:    []string{"image", "package", "パッケージ画像"},
	SampleImages: []string{"images", "サンプル画像"},
	SampleVideos: []string{"movie", "サンプル動画"},
	Price:        []string{"price", "価格"},
	SalePrice:    []string{"sale_price", "セール価格"},
	SaleContext:  []string{"sale_name", "セール名"},
	Performers:   []string{"actors", "出演者"},
	Genres:       []string{"category", "ジャンル"},
	AffiliateURL: []string{"url", "URL"},
}

// listColumns are split into JSON arrays when a row is converted.
var listColumns = map[string]*regexp.Regexp{
	"images":   reURLList,
	"サンプル画像":   reURLList,
	"actors":   names.DefaultDelimiters,
	"出演者":      names.DefaultDelimiters,
	"category": names.DefaultDelimiters,
	"ジャンル":     names.DefaultDelimiters,
}

var reURLList = regexp.MustCompile(`\s*[|\s]\s*`)

// Adapter implements sources.CatalogSource over the CSV dump
type Adapter struct {
	baseURL     string
	client      *fetch.Client
	credentials map[string]string
	now         func() time.Time

	mu    sync.Mutex
	items []sources.BatchItem
}

func New(baseURL string, timeout time.Duration) *Adapter {
	return &Adapter{
		baseURL:     baseURL,
		client:      fetch.New(fetch.Options{Timeout: timeout}),
		credentials: make(map[string]string),
		now:         time.Now,
	}
}

func (a *Adapter) ID() string              { return SourceID }
func (a *Adapter) Name() string            { return SourceName }
func (a *Adapter) DefaultSchedule() string { return "30 4 * * *" }
func (a *Adapter) DataOrigin() string      { return "csv" }

func (a *Adapter) CredentialFields() []sources.CredentialField {
	return []sources.CredentialField{
		{Key: "affiliate_id", Label: "Affiliate ID", Type: "text", HelpText: "Appended to product links when set"},
	}
}

func (a *Adapter) SetCredentials(creds map[string]string) {
	a.credentials = creds
}

func (a *Adapter) ValidateCredentials(ctx context.Context) error {
	return nil
}

func (a *Adapter) csvURL() string {
	u := a.baseURL + "/csv_home.php?all=1&nosep=1"
	if id := a.credentials["affiliate_id"]; id != "" {
		u += "&atype=" + id
	}
	return u
}

// BeginRun drops any download left from an earlier run.
func (a *Adapter) BeginRun() {
	a.mu.Lock()
	a.items = nil
	a.mu.Unlock()
}

// EndRun releases the parsed dump.
func (a *Adapter) EndRun() { a.BeginRun() }

// FetchBatch downloads the dump at the first batch of a run, or at offset 0,
// and serves later offsets of the run from the same download.
func (a *Adapter) FetchBatch(ctx context.Context, params sources.ListParams) (*sources.Batch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if params.Offset == 0 || a.items == nil {
		resp, err := a.client.Get(ctx, fetch.Request{URL: a.csvURL(), Charset: "shift_jis"})
		if err != nil {
			return nil, sources.WrapFetchError("download b10f CSV", err)
		}
		items, err := ParseCSV(resp.Body)
		if err != nil {
			return nil, sources.NewAdapterError(sources.ErrCodeParse, "parse b10f CSV", err)
		}
		a.items = items
	}

	batch := &sources.Batch{TotalCount: len(a.items)}
	if params.Offset >= len(a.items) {
		return batch, nil
	}
	end := len(a.items)
	if params.Limit > 0 {
		end = min(end, params.Offset+params.Limit)
	}
	batch.Items = a.items[params.Offset:end]
	return batch, nil
}

func (a *Adapter) ParseItem(item sources.BatchItem) (*sources.ProductInfo, error) {
	return fieldMap.NormalizeAt(SourceID, item.Raw, a.now())
}

// TotalStrategy counts the records of the dump.
func (a *Adapter) TotalStrategy() estimator.Strategy {
	return estimator.CSVLines(a.client, a.csvURL(), "b10f CSV")
}

// FallbackEstimate is reported until a live count succeeds.
func (a *Adapter) FallbackEstimate() int { return catalogEstimate }

// ParseCSV converts every data row into a JSON object keyed by the header
// names, the raw form stored and replayed for each item.
func ParseCSV(body []byte) ([]sources.BatchItem, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var items []sources.BatchItem
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i >= len(record) || col == "" {
				continue
			}
			v := strings.TrimSpace(record[i])
			if v == "" {
				continue
			}
			if delim, ok := listColumns[col]; ok {
				row[col] = splitNonEmpty(v, delim)
				continue
			}
			row[col] = v
		}
		raw, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		id := sources.Lookup(raw, fieldMap.LocalID...)
		if id == "" {
			continue
		}
		items = append(items, sources.BatchItem{
			LocalID: id,
			URL:     sources.Lookup(raw, fieldMap.AffiliateURL...),
			Raw:     raw,
		})
	}
	return items, nil
}

func splitNonEmpty(v string, delim *regexp.Regexp) []string {
	var out []string
	for _, s := range delim.Split(v, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
