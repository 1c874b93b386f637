package sources

import (
	"errors"
	"net/url"
	"time"

	"github.com/catalog-dev/catalog-ingest/internal/fetch"
	"github.com/catalog-dev/catalog-ingest/internal/ratelimit"
)

// NewPage converts a fetch response into a Page. For unfollowed redirects
// the Location target becomes FinalURL.
func NewPage(localID string, resp *fetch.Response) *Page {
	p := &Page{
		LocalID:    localID,
		URL:        resp.URL,
		FinalURL:   resp.FinalURL,
		StatusCode: resp.StatusCode,
		Redirected: resp.Redirected,
		Body:       resp.Body,
		FetchedAt:  time.Now(),
	}
	if loc := resp.Header.Get("Location"); loc != "" && resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if base, err := url.Parse(resp.URL); err == nil {
			if ref, err := url.Parse(loc); err == nil {
				p.FinalURL = base.ResolveReference(ref).String()
			}
		}
	}
	return p
}

// WrapFetchError maps fetch and quota errors onto adapter error codes while
// keeping the original error reachable through errors.As. A 401 or 403 on a
// single page is a refusal of that item and stays a network error.
func WrapFetchError(msg string, err error) error {
	if err == nil {
		return nil
	}
	var te *fetch.TransportError
	switch {
	case errors.Is(err, ratelimit.ErrExceeded):
		return NewAdapterError(ErrCodeRateLimit, msg, err)
	case errors.As(err, &te) && te.NotFound():
		return NewAdapterError(ErrCodeNotFound, msg, err)
	default:
		return NewAdapterError(ErrCodeNetwork, msg, err)
	}
}

// WrapAPIError is WrapFetchError for credentialed API calls, where a 401 or
// 403 means the key itself was rejected.
func WrapAPIError(msg string, err error) error {
	var te *fetch.TransportError
	if errors.As(err, &te) && (te.StatusCode == 401 || te.StatusCode == 403) {
		return NewAdapterError(ErrCodeAuth, msg, err)
	}
	return WrapFetchError(msg, err)
}
