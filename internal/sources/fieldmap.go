package sources

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/catalog-dev/catalog-ingest/internal/pricing"
)

// FieldMap declares, per intermediate field, the JSON paths a vendor may use.
// Paths are tried in order and the first one holding a non-empty value wins.
// List paths may use gjson's "#." syntax to collect values from arrays.
type FieldMap struct {
	LocalID      []string
	Title        []string
	Description  []string
	ReleaseDate  []string
	Duration     []string
	Thumbnail    []string
	SampleImages []string
	SampleVideos []string
	Price        []string
	SalePrice    []string
	SaleContext  []string
	Performers   []string
	Genres       []string
	AffiliateURL []string
}

// Normalize maps one vendor JSON object into a ProductInfo. Missing optional
// fields are left zero and performer names are cleaned.
func (m FieldMap) Normalize(sourceID string, raw []byte) (*ProductInfo, error) {
	return m.NormalizeAt(sourceID, raw, time.Now())
}

// NormalizeAt is Normalize with the clock used to resolve sale expiries.
func (m FieldMap) NormalizeAt(sourceID string, raw []byte, now time.Time) (*ProductInfo, error) {
	if !gjson.ValidBytes(raw) {
		return nil, NewAdapterError(ErrCodeParse, "invalid JSON item", nil)
	}
	doc := gjson.ParseBytes(raw)

	p := &ProductInfo{
		SourceID:     sourceID,
		LocalID:      firstString(doc, m.LocalID),
		Title:        firstString(doc, m.Title),
		Description:  firstString(doc, m.Description),
		ThumbnailURL: firstString(doc, m.Thumbnail),
		AffiliateURL: firstString(doc, m.AffiliateURL),
	}
	if p.LocalID == "" {
		return nil, NewAdapterError(ErrCodeParse, "item has no id", nil)
	}
	if d := firstString(doc, m.ReleaseDate); d != "" {
		p.ReleaseDate, _ = ParseDate(d)
	}
	if d := firstString(doc, m.Duration); d != "" {
		p.DurationMinutes = ParseMinutes(d)
	}
	p.Price = firstInt(doc, m.Price)
	p.SampleImageURLs = collectStrings(doc, m.SampleImages)
	p.SampleVideoURLs = collectStrings(doc, m.SampleVideos)
	p.Genres = collectStrings(doc, m.Genres)

	rawPerformers := collectStrings(doc, m.Performers)
	p.Performers = CleanPerformers(sourceID, p.Title, rawPerformers)

	p.Sale = pricing.FromPrices(p.Price, firstInt(doc, m.SalePrice), firstString(doc, m.SaleContext), now)
	return p, nil
}

// Lookup returns the first non-empty value of paths in raw.
func Lookup(raw []byte, paths ...string) string {
	return firstString(gjson.ParseBytes(raw), paths)
}

func firstString(doc gjson.Result, paths []string) string {
	for _, path := range paths {
		r := doc.Get(path)
		if !r.Exists() {
			continue
		}
		if r.IsArray() {
			for _, v := range r.Array() {
				if s := strings.TrimSpace(v.String()); s != "" {
					return s
				}
			}
			continue
		}
		if s := strings.TrimSpace(r.String()); s != "" {
			return s
		}
	}
	return ""
}

func firstInt(doc gjson.Result, paths []string) int {
	for _, path := range paths {
		r := doc.Get(path)
		if !r.Exists() {
			continue
		}
		values := []gjson.Result{r}
		if r.IsArray() {
			values = r.Array()
		}
		for _, v := range values {
			if n := toInt(v); n > 0 {
				return n
			}
		}
	}
	return 0
}

func toInt(r gjson.Result) int {
	switch r.Type {
	case gjson.Number:
		return int(r.Int())
	case gjson.String:
		s := strings.NewReplacer(",", "", "¥", "", "円", "", "￥", "").Replace(r.String())
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return 0
}

// collectStrings gathers values from the first path that yields any. Arrays
// of objects are read through their "name" member.
func collectStrings(doc gjson.Result, paths []string) []string {
	for _, path := range paths {
		r := doc.Get(path)
		if !r.Exists() {
			continue
		}
		var out []string
		appendValue := func(v gjson.Result) {
			if v.IsObject() {
				v = v.Get("name")
			}
			if s := strings.TrimSpace(v.String()); s != "" {
				out = append(out, s)
			}
		}
		if r.IsArray() {
			for _, v := range r.Array() {
				if v.IsArray() {
					for _, inner := range v.Array() {
						appendValue(inner)
					}
					continue
				}
				appendValue(v)
			}
		} else {
			appendValue(r)
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}
