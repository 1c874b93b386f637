package sources

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/width"

	"github.com/catalog-dev/catalog-ingest/internal/names"
)

// placeholderTitles match titles served by top pages, search pages and
// "item not found" templates.
var placeholderTitles = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(?:404|not found|page not found|error)\b`),
	regexp.MustCompile(`(?i)^\s*(?:home|top|index)\s*$`),
	regexp.MustCompile(`(?i)^\s*(?:no title|untitled|null|undefined)\s*$`),
	regexp.MustCompile(`^\s*(?:トップページ|ページが見つかりません|お探しのページ|エラー|年齢認証|年齢確認)`),
	regexp.MustCompile(`(?i)age\s*(?:verification|check|gate)`),
}

// ValidateTitle rejects empty, implausibly short and placeholder titles.
func ValidateTitle(title string) error {
	t := strings.TrimSpace(title)
	if t == "" {
		return fmt.Errorf("%w: empty title", ErrValidationRejected)
	}
	if utf8.RuneCountInString(t) < 2 {
		return fmt.Errorf("%w: title %q too short", ErrValidationRejected, t)
	}
	for _, re := range placeholderTitles {
		if re.MatchString(t) {
			return fmt.Errorf("%w: placeholder title %q", ErrValidationRejected, t)
		}
	}
	return nil
}

// IsPlaceholderTitle reports whether t is one of the known top-page or
// not-found titles.
func IsPlaceholderTitle(t string) bool {
	for _, re := range placeholderTitles {
		if re.MatchString(t) {
			return true
		}
	}
	return false
}

// CleanPerformers validates and normalises raw performer names, dropping the
// invalid ones and those equal to the product title.
func CleanPerformers(sourceID, title string, raw []string) []PerformerInfo {
	var out []PerformerInfo
	seen := make(map[string]bool)
	for _, r := range raw {
		p, ok := names.Parse(r)
		if !ok || !names.IsValidForProduct(p.Name, title) {
			slog.Debug("Dropped performer name", "source", sourceID, "name", r, "reason", "validation_rejected")
			continue
		}
		key := names.Key(p.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, PerformerInfo{Name: p.Name, Reading: p.Reading, Aliases: p.Aliases})
	}
	return out
}

// CleanPerformerList splits a delimited cast field and cleans every token.
// A nil delimiter uses names.DefaultDelimiters.
func CleanPerformerList(sourceID, title, field string, delimiter *regexp.Regexp) []PerformerInfo {
	var out []PerformerInfo
	for _, p := range names.ParseListDetailed(field, delimiter) {
		if !names.IsValidForProduct(p.Name, title) {
			slog.Debug("Dropped performer name", "source", sourceID, "name", p.Name, "reason", "validation_rejected")
			continue
		}
		out = append(out, PerformerInfo{Name: p.Name, Reading: p.Reading, Aliases: p.Aliases})
	}
	return out
}

// Finalize validates the title and drops invalid optional data from p.
// A failing title rejects the whole record.
func Finalize(p *ProductInfo) error {
	p.Title = NormSpace(p.Title)
	if err := ValidateTitle(p.Title); err != nil {
		return err
	}
	p.Description = strings.TrimSpace(p.Description)
	if IsPlaceholderTitle(p.Description) {
		p.Description = ""
	}
	p.SampleImageURLs = uniqueNonEmpty(p.SampleImageURLs)
	p.SampleVideoURLs = uniqueNonEmpty(p.SampleVideoURLs)
	p.Genres = uniqueNonEmpty(p.Genres)
	if p.DurationMinutes < 0 {
		p.DurationMinutes = 0
	}
	if p.Price < 0 {
		p.Price = 0
	}
	if p.Sale != nil && p.Sale.SalePrice >= p.Sale.RegularPrice {
		p.Sale = nil
	}
	return nil
}

var reSpace = regexp.MustCompile(`[\s\p{Z}]+`)

// NormSpace collapses runs of whitespace into one space and trims.
func NormSpace(s string) string {
	return strings.TrimSpace(reSpace.ReplaceAllString(s, " "))
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02 15:04",
	"2006/01/02",
	"2006.01.02",
	"20060102",
}

var reJPDate = regexp.MustCompile(`(\d{4})\s*[年/.\-]\s*(\d{1,2})\s*[月/.\-]\s*(\d{1,2})`)

// ParseDate accepts the date shapes catalogs publish. Dates without a zone
// are taken as JST.
func ParseDate(s string) (*time.Time, bool) {
	s = strings.TrimSpace(width.Fold.String(s))
	if s == "" || strings.HasPrefix(s, "0000") {
		return nil, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, jst); err == nil {
			return &t, true
		}
	}
	if m := reJPDate.FindStringSubmatch(s); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if mo >= 1 && mo <= 12 && d >= 1 && d <= 31 {
			t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, jst)
			return &t, true
		}
	}
	return nil, false
}

var (
	reHMS     = regexp.MustCompile(`(\d{1,2}):(\d{2}):(\d{2})`)
	reHM      = regexp.MustCompile(`(\d{1,3}):(\d{2})`)
	reMinutes = regexp.MustCompile(`(\d+)\s*(?:分|min|minutes|mins)`)
	reHours   = regexp.MustCompile(`(\d+)\s*(?:時間|hours?|h)\s*(?:(\d+)\s*(?:分|min))?`)
	reISODur  = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)
)

// ParseMinutes reads a running time ("120分", "01:58:30", "PT1H58M", "118")
// and returns it in whole minutes.
func ParseMinutes(s string) int {
	s = strings.TrimSpace(width.Fold.String(s))
	if s == "" {
		return 0
	}
	if m := reISODur.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		sec, _ := strconv.Atoi(m[3])
		return h*60 + mi + (sec+30)/60
	}
	if m := reHMS.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		sec, _ := strconv.Atoi(m[3])
		return h*60 + mi + (sec+30)/60
	}
	if m := reHours.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		return h*60 + mi
	}
	if m := reMinutes.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	if m := reHM.FindStringSubmatch(s); m != nil {
		mi, _ := strconv.Atoi(m[1])
		sec, _ := strconv.Atoi(m[2])
		return mi + (sec+30)/60
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return 0
}

var jst = time.FixedZone("JST", 9*60*60)

func uniqueNonEmpty(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
