package scrape

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

// Detector classifies a page as "not a real product page". It returns the
// reason, or "" when the page looks genuine.
type Detector func(page *sources.Page, d *Doc) string

// Classify runs detectors in order and returns a *sources.NotAProductError
// for the first positive match.
func Classify(page *sources.Page, d *Doc, detectors ...Detector) error {
	for _, det := range detectors {
		if reason := det(page, d); reason != "" {
			return sources.NotAProduct(page.LocalID, reason)
		}
	}
	return nil
}

// RedirectedAway fires when the fetch was redirected to a URL that no
// longer mentions the local id (typically the home page).
func RedirectedAway() Detector {
	return func(page *sources.Page, _ *Doc) string {
		if !page.Redirected {
			return ""
		}
		u, err := url.Parse(page.FinalURL)
		if err != nil || page.LocalID == "" {
			return "redirect"
		}
		if strings.Contains(strings.ToLower(u.Path+"?"+u.RawQuery), strings.ToLower(page.LocalID)) {
			return ""
		}
		return "redirect"
	}
}

// HomeMarker fires when the markup contains one of the literal markers only
// the home page or a listing page carries.
func HomeMarker(markers ...string) Detector {
	return func(_ *sources.Page, d *Doc) string {
		for _, m := range markers {
			if strings.Contains(d.Raw, m) {
				return "home_marker"
			}
		}
		return ""
	}
}

// AgeGate fires on age verification interstitials.
func AgeGate(markers ...string) Detector {
	return func(_ *sources.Page, d *Doc) string {
		for _, m := range markers {
			if strings.Contains(d.Raw, m) {
				return "age_gate"
			}
		}
		return ""
	}
}

// MissingElement fires when none of selectors match. Pass the structural
// elements that only exist on true detail pages.
func MissingElement(selectors ...string) Detector {
	return func(_ *sources.Page, d *Doc) string {
		for _, sel := range selectors {
			if d.Find(sel).Length() > 0 {
				return ""
			}
		}
		return "missing_detail_structure"
	}
}

// PlaceholderTitle fires when the page title is empty or matches a known
// top-page pattern, either the shared library or one of extra.
func PlaceholderTitle(title Extractor, extra ...*regexp.Regexp) Detector {
	return func(_ *sources.Page, d *Doc) string {
		t := sources.NormSpace(title(d))
		if t == "" || sources.IsPlaceholderTitle(t) {
			return "placeholder_title"
		}
		for _, re := range extra {
			if re.MatchString(t) {
				return "placeholder_title"
			}
		}
		return ""
	}
}

// Boilerplate fires when the description is one of the generic texts a site
// serves for every page.
func Boilerplate(description Extractor, patterns ...*regexp.Regexp) Detector {
	return func(_ *sources.Page, d *Doc) string {
		desc := sources.NormSpace(description(d))
		if desc == "" {
			return ""
		}
		for _, re := range patterns {
			if re.MatchString(desc) {
				return "boilerplate_description"
			}
		}
		return ""
	}
}

// PageTitle reads <title>, falling back to og:title.
func PageTitle() Extractor {
	return func(d *Doc) string {
		return First(d, Text("head title"), Meta("og:title"))
	}
}
