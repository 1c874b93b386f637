// Package fetch performs the HTTP requests of every source: a rotating user
// agent, a hard per-request timeout, optional cookie/Referer continuity and
// decoding of legacy Japanese charsets to UTF-8.
//
// Requests are never retried here. Retry policy belongs to the job runner.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/catalog-dev/catalog-ingest/internal/ratelimit"
)

const (
	DefaultTimeout = 20 * time.Second
	maxBodyBytes   = 16 << 20
)

// Request describes one GET.
type Request struct {
	URL     string
	Referer string
	Header  http.Header
	Cookies []*http.Cookie
	// NoRedirect returns 3xx responses as-is instead of following them.
	NoRedirect bool
	// Charset forces a decoder ("euc-jp", "shift_jis", "utf-8"). Empty means
	// sniff from the Content-Type header and meta tags.
	Charset string
}

// Response is a fetched page with its body decoded to UTF-8.
type Response struct {
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte
	Redirected bool
}

// TransportError is a network failure or a non-2xx response.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the request ran out of time.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// NotFound reports a 404 or 410 response.
func (e *TransportError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	// Quota, when set, is consulted before every request and its
	// *ratelimit.ExceededError is returned without touching the network.
	Quota *ratelimit.Window
	// Transport overrides the base transport. Used by tests.
	Transport http.RoundTripper
}

type Client struct {
	http  *http.Client
	quota *ratelimit.Window
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base := opts.Transport
	if base == nil {
		base = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			MaxIdleConnsPerHost:   4,
		}
	}
	return &Client{
		http: &http.Client{
			Transport: &uaTransport{base: base, ua: globalUA},
			Timeout:   timeout,
		},
		quota: opts.Quota,
	}
}

// WithQuota returns a copy of the client guarded by quota.
func (c *Client) WithQuota(quota *ratelimit.Window) *Client {
	cp := *c
	cp.quota = quota
	return &cp
}

// Get fetches req.URL without any cookie state.
func (c *Client) Get(ctx context.Context, req Request) (*Response, error) {
	return c.do(ctx, req, nil)
}

// Session replays cookies and the previous page as Referer across requests,
// for sites that gate detail pages behind an entry page.
type Session struct {
	client  *Client
	jar     http.CookieJar
	lastURL string
}

func (c *Client) NewSession() *Session {
	jar, _ := cookiejar.New(nil)
	return &Session{client: c, jar: jar}
}

// SetCookies seeds the jar, e.g. with an age confirmation cookie.
func (s *Session) SetCookies(rawURL string, cookies ...*http.Cookie) error {
	u, err := parseURL(rawURL)
	if err != nil {
		return err
	}
	s.jar.SetCookies(u, cookies)
	return nil
}

func (s *Session) Get(ctx context.Context, req Request) (*Response, error) {
	if req.Referer == "" {
		req.Referer = s.lastURL
	}
	resp, err := s.client.do(ctx, req, s.jar)
	if resp != nil {
		s.lastURL = resp.FinalURL
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, req Request, jar http.CookieJar) (*Response, error) {
	if err := c.quota.Acquire(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Referer != "" {
		httpReq.Header.Set("Referer", req.Referer)
	}
	if httpReq.Header.Get("Accept-Language") == "" {
		httpReq.Header.Set("Accept-Language", "ja,en-US;q=0.8,en;q=0.6")
	}
	for _, ck := range req.Cookies {
		httpReq.AddCookie(ck)
	}

	hc := *c.http
	hc.Jar = jar
	if req.NoRedirect {
		hc.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{URL: req.URL, Err: err}
	}

	out := &Response{
		URL:        req.URL,
		FinalURL:   req.URL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		out.FinalURL = resp.Request.URL.String()
	}
	isRedirect := resp.StatusCode >= 300 && resp.StatusCode < 400
	out.Redirected = out.FinalURL != req.URL || isRedirect

	if resp.StatusCode < 200 || (resp.StatusCode >= 300 && !(isRedirect && req.NoRedirect)) {
		return out, &TransportError{URL: req.URL, StatusCode: resp.StatusCode}
	}

	out.Body, err = decode(raw, resp.Header.Get("Content-Type"), req.Charset)
	if err != nil {
		return out, &TransportError{URL: req.URL, Err: fmt.Errorf("decode body: %w", err)}
	}
	return out, nil
}

func decode(raw []byte, contentType, forced string) ([]byte, error) {
	var r io.Reader
	switch strings.ToLower(strings.ReplaceAll(forced, "_", "-")) {
	case "utf-8", "utf8":
		return raw, nil
	case "euc-jp", "eucjp":
		r = transform.NewReader(bytes.NewReader(raw), japanese.EUCJP.NewDecoder())
	case "shift-jis", "sjis", "cp932":
		r = transform.NewReader(bytes.NewReader(raw), japanese.ShiftJIS.NewDecoder())
	default:
		if utf8.Valid(raw) && !declaresLegacyCharset(contentType) {
			return raw, nil
		}
		cr, err := charset.NewReader(bytes.NewReader(raw), contentType)
		if err != nil {
			return nil, err
		}
		r = cr
	}
	return io.ReadAll(r)
}

func declaresLegacyCharset(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "euc-jp") || strings.Contains(ct, "shift_jis") || strings.Contains(ct, "sjis")
}
