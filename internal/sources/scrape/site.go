package scrape

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/catalog-dev/catalog-ingest/internal/fetch"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
)

// Site is the identity and fetch plumbing shared by the HTML sources. Sites
// need no credentials.
type Site struct {
	SiteID   string
	SiteName string
	Schedule string
	BaseURL  string
	Client   *fetch.Client
}

func (s *Site) ID() string                                  { return s.SiteID }
func (s *Site) Name() string                                { return s.SiteName }
func (s *Site) CredentialFields() []sources.CredentialField { return nil }
func (s *Site) SetCredentials(map[string]string)            {}
func (s *Site) ValidateCredentials(context.Context) error   { return nil }
func (s *Site) DefaultSchedule() string                     { return s.Schedule }

// FetchPage fetches a detail page without following redirects so a bounce
// to the home page stays visible to the detectors.
func (s *Site) FetchPage(ctx context.Context, localID string, req fetch.Request) (*sources.Page, error) {
	req.NoRedirect = true
	resp, err := s.Client.Get(ctx, req)
	if err != nil {
		return nil, sources.WrapFetchError("fetch detail page "+localID, err)
	}
	return sources.NewPage(localID, resp), nil
}

// ListingIDs fetches a listing page and returns the ids matched by re's
// first capture group, de-duplicated in page order.
func (s *Site) ListingIDs(ctx context.Context, url string, re *regexp.Regexp) ([]string, error) {
	resp, err := s.Client.Get(ctx, fetch.Request{URL: url})
	if err != nil {
		return nil, sources.WrapFetchError("fetch listing page", err)
	}
	return UniqueMatches(resp.Body, re), nil
}

// CollectIDs walks listing pages from 1 up to maxPages until Offset+Limit
// ids are gathered or a page adds nothing new. Without a limit every page
// up to maxPages is read.
func (s *Site) CollectIDs(ctx context.Context, pageURL func(page int) string, re *regexp.Regexp, params sources.ListParams, maxPages int) ([]string, error) {
	need := 0
	if params.Limit > 0 {
		need = params.Offset + params.Limit
	}
	var ids []string
	seen := make(map[string]bool)
	for page := 1; page <= maxPages; page++ {
		found, err := s.ListingIDs(ctx, pageURL(page), re)
		if err != nil {
			if len(ids) == 0 {
				return nil, err
			}
			slog.Warn("Listing walk stopped early", "source", s.SiteID, "page", page, "error", err)
			break
		}
		added := 0
		for _, id := range found {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
				added++
			}
		}
		if added == 0 || (need > 0 && len(ids) >= need) {
			break
		}
	}
	return Window(ids, params), nil
}

// UniqueMatches returns capture group 1 of every match of re in body, first
// occurrence only.
func UniqueMatches(body []byte, re *regexp.Regexp) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllSubmatch(body, -1) {
		if len(m) < 2 {
			continue
		}
		id := string(m[1])
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Window applies an offset and a limit to a list of ids.
func Window(ids []string, params sources.ListParams) []string {
	if params.Offset > 0 {
		if params.Offset >= len(ids) {
			return nil
		}
		ids = ids[params.Offset:]
	}
	if params.Limit > 0 && len(ids) > params.Limit {
		ids = ids[:params.Limit]
	}
	return ids
}
