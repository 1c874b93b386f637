// Package scrape holds the goquery helpers shared by the HTML parsers:
// ordered extraction cascades and "not a real product page" detectors.
package scrape

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

// Doc is a parsed page together with its raw markup and final URL.
type Doc struct {
	*goquery.Document
	Raw string
	URL *url.URL
}

// Parse builds a Doc from a decoded (UTF-8) body.
func Parse(body []byte, pageURL string) (*Doc, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	u, _ := url.Parse(pageURL)
	return &Doc{Document: doc, Raw: string(body), URL: u}, nil
}

// Resolve makes href absolute against the page URL.
func (d *Doc) Resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		scheme := "https"
		if d.URL != nil && d.URL.Scheme != "" {
			scheme = d.URL.Scheme
		}
		return scheme + ":" + href
	}
	if d.URL == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return d.URL.ResolveReference(ref).String()
}

// Extractor yields one field value, or "" when its pattern does not match.
type Extractor func(d *Doc) string

// ListExtractor yields a list of values, or nil when its pattern does not match.
type ListExtractor func(d *Doc) []string

// First runs a cascade: the first extractor returning a non-empty value wins.
func First(d *Doc, cascade ...Extractor) string {
	for _, ex := range cascade {
		if v := sources.NormSpace(ex(d)); v != "" {
			return v
		}
	}
	return ""
}

// FirstList is First for list fields.
func FirstList(d *Doc, cascade ...ListExtractor) []string {
	for _, ex := range cascade {
		var out []string
		for _, v := range ex(d) {
			if v = sources.NormSpace(v); v != "" {
				out = append(out, v)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// Text takes the text of the first element matching selector.
func Text(selector string) Extractor {
	return func(d *Doc) string {
		return d.Find(selector).First().Text()
	}
}

// OwnText takes the text of the first match without the text of its child
// elements.
func OwnText(selector string) Extractor {
	return func(d *Doc) string {
		sel := d.Find(selector).First()
		var b strings.Builder
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				b.WriteString(c.Text())
			}
		})
		return b.String()
	}
}

// Attr takes an attribute of the first element matching selector. URL
// attributes are resolved against the page.
func Attr(selector, attr string) Extractor {
	return func(d *Doc) string {
		v, ok := d.Find(selector).First().Attr(attr)
		if !ok {
			return ""
		}
		if isURLAttr(attr) {
			return d.Resolve(v)
		}
		return v
	}
}

// Meta reads <meta property=...> or <meta name=...>.
func Meta(key string) Extractor {
	return func(d *Doc) string {
		if v, ok := d.Find(`meta[property="` + key + `"]`).Attr("content"); ok {
			return v
		}
		v, _ := d.Find(`meta[name="` + key + `"]`).Attr("content")
		return v
	}
}

// MetaURL is Meta resolved against the page URL.
func MetaURL(key string) Extractor {
	return func(d *Doc) string {
		return d.Resolve(Meta(key)(d))
	}
}

// Regex returns the first capture group of re over the raw markup.
func Regex(re *regexp.Regexp) Extractor {
	return func(d *Doc) string {
		m := re.FindStringSubmatch(d.Raw)
		if len(m) < 2 {
			return ""
		}
		return m[1]
	}
}

// Labeled finds the row whose label matches one of labels and returns the
// text of its value element. Rows look like <tr><th>label</th><td>value</td></tr>
// or <dt>label</dt><dd>value</dd>. An empty labelSelector makes the row its
// own label; an empty valueSelector means the label's next sibling.
func Labeled(rowSelector, labelSelector, valueSelector string, labels ...string) Extractor {
	return func(d *Doc) string {
		if v := labeledValue(d, rowSelector, labelSelector, valueSelector, labels); v != nil {
			return v.Text()
		}
		return ""
	}
}

// Texts takes the text of every element matching selector.
func Texts(selector string) ListExtractor {
	return func(d *Doc) []string {
		var out []string
		d.Find(selector).Each(func(_ int, s *goquery.Selection) {
			out = append(out, s.Text())
		})
		return out
	}
}

// Attrs takes an attribute of every element matching selector.
func Attrs(selector, attr string) ListExtractor {
	return func(d *Doc) []string {
		var out []string
		d.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr(attr); ok {
				if isURLAttr(attr) {
					v = d.Resolve(v)
				}
				out = append(out, v)
			}
		})
		return out
	}
}

// LabeledTexts is Labeled for rows holding several linked values. When the
// value element has no <a> children its whole text is returned as one item.
func LabeledTexts(rowSelector, labelSelector, valueSelector string, labels ...string) ListExtractor {
	return func(d *Doc) []string {
		v := labeledValue(d, rowSelector, labelSelector, valueSelector, labels)
		if v == nil {
			return nil
		}
		links := v.Find("a")
		if links.Length() == 0 {
			return []string{v.Text()}
		}
		var out []string
		links.Each(func(_ int, a *goquery.Selection) {
			out = append(out, a.Text())
		})
		return out
	}
}

// RegexAll returns capture group 1 of every match of re over the raw markup.
func RegexAll(re *regexp.Regexp) ListExtractor {
	return func(d *Doc) []string {
		var out []string
		for _, m := range re.FindAllStringSubmatch(d.Raw, -1) {
			if len(m) > 1 {
				out = append(out, m[1])
			}
		}
		return out
	}
}

// Split wraps an Extractor whose value is a delimited list.
func Split(ex Extractor, delimiter *regexp.Regexp) ListExtractor {
	return func(d *Doc) []string {
		v := ex(d)
		if v == "" {
			return nil
		}
		return delimiter.Split(v, -1)
	}
}

// JSONLD returns the first ld+json block whose @type is typ, or nil.
func (d *Doc) JSONLD(typ string) []byte {
	var found []byte
	d.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if !gjson.Valid(raw) {
			return true
		}
		doc := gjson.Parse(raw)
		candidates := []gjson.Result{doc}
		if doc.IsArray() {
			candidates = doc.Array()
		} else if g := member(doc, "@graph"); g.IsArray() {
			candidates = g.Array()
		}
		for _, c := range candidates {
			if hasType(c, typ) {
				found = []byte(c.Raw)
				return false
			}
		}
		return true
	})
	return found
}

// member looks a key up by iteration; gjson reads a leading '@' in a path
// as a modifier.
func member(obj gjson.Result, key string) gjson.Result {
	var out gjson.Result
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.String() == key {
			out = v
			return false
		}
		return true
	})
	return out
}

// hasType checks the @type member, which may be a string or a list.
func hasType(obj gjson.Result, typ string) bool {
	t := member(obj, "@type")
	if t.IsArray() {
		for _, v := range t.Array() {
			if strings.EqualFold(v.String(), typ) {
				return true
			}
		}
		return false
	}
	return strings.EqualFold(t.String(), typ)
}

func labeledValue(d *Doc, rowSelector, labelSelector, valueSelector string, labels []string) *goquery.Selection {
	var value *goquery.Selection
	d.Find(rowSelector).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		label := row
		if labelSelector != "" {
			label = row.Find(labelSelector).First()
		}
		if label.Length() == 0 || !matchLabel(label.Text(), labels) {
			return true
		}
		if valueSelector == "" {
			value = label.Next()
		} else {
			value = row.Find(valueSelector).First()
		}
		return false
	})
	if value == nil || value.Length() == 0 {
		return nil
	}
	return value
}

func matchLabel(text string, labels []string) bool {
	text = strings.TrimRight(sources.NormSpace(text), ":：")
	for _, l := range labels {
		if strings.EqualFold(strings.TrimSpace(text), l) {
			return true
		}
	}
	return false
}

func isURLAttr(attr string) bool {
	switch attr {
	case "href", "src", "data-src", "data-original", "poster":
		return true
	}
	return false
}
