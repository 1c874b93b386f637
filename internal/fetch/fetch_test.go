package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/text/encoding/japanese"

	"github.com/catalog-dev/catalog-ingest/internal/ratelimit"
)

func TestGetSetsUserAgent(t *testing.T) {
	var ua string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	resp, err := New(Options{}).Get(context.Background(), Request{URL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("Body = %q, want ok", resp.Body)
	}
	if !strings.HasPrefix(ua, "Mozilla/5.0") {
		t.Errorf("User-Agent = %q, want a browser UA", ua)
	}
}

func TestNon2xxIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	resp, err := New(Options{}).Get(context.Background(), Request{URL: server.URL + "/missing"})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if te.StatusCode != http.StatusNotFound || !te.NotFound() {
		t.Errorf("StatusCode = %d, want 404", te.StatusCode)
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Error("response should still be returned with the status")
	}
}

func TestTimeoutIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	_, err := New(Options{Timeout: 50 * time.Millisecond}).Get(context.Background(), Request{URL: server.URL})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if !te.Timeout() {
		t.Errorf("Timeout() = false for %v", err)
	}
}

func TestQuotaRejectsWithoutNetwork(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	client := New(Options{Quota: ratelimit.New(1, time.Minute)})
	if _, err := client.Get(context.Background(), Request{URL: server.URL}); err != nil {
		t.Fatal(err)
	}
	_, err := client.Get(context.Background(), Request{URL: server.URL})
	if !errors.Is(err, ratelimit.ErrExceeded) {
		t.Fatalf("error = %v, want ErrExceeded", err)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

func TestSessionChainsCookiesAndReferer(t *testing.T) {
	var gotReferer, gotCookie string
	mux := http.NewServeMux()
	mux.HandleFunc("/entry", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		w.Write([]byte("entry"))
	})
	mux.HandleFunc("/detail", func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		if c, err := r.Cookie("sid"); err == nil {
			gotCookie = c.Value
		}
		w.Write([]byte("detail"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session := New(Options{}).NewSession()
	if _, err := session.Get(context.Background(), Request{URL: server.URL + "/entry"}); err != nil {
		t.Fatal(err)
	}
	if _, err := session.Get(context.Background(), Request{URL: server.URL + "/detail"}); err != nil {
		t.Fatal(err)
	}
	if gotReferer != server.URL+"/entry" {
		t.Errorf("Referer = %q, want %q", gotReferer, server.URL+"/entry")
	}
	if gotCookie != "abc" {
		t.Errorf("cookie sid = %q, want abc", gotCookie)
	}
}

func TestNoRedirectReturnsLocation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/item" {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		w.Write([]byte("home"))
	}))
	defer server.Close()

	client := New(Options{})

	resp, err := client.Get(context.Background(), Request{URL: server.URL + "/item", NoRedirect: true})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusFound || !resp.Redirected {
		t.Errorf("StatusCode = %d, Redirected = %v, want 302, true", resp.StatusCode, resp.Redirected)
	}

	resp, err = client.Get(context.Background(), Request{URL: server.URL + "/item"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Redirected || resp.FinalURL != server.URL+"/" {
		t.Errorf("FinalURL = %q, Redirected = %v", resp.FinalURL, resp.Redirected)
	}
}

func TestDecodeEUCJP(t *testing.T) {
	encoded, err := japanese.EUCJP.NewEncoder().Bytes([]byte("<title>山田花子</title>"))
	if err != nil {
		t.Fatal(err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=EUC-JP")
		w.Write(encoded)
	}))
	defer server.Close()

	client := New(Options{})
	for _, forced := range []string{"", "euc-jp"} {
		resp, err := client.Get(context.Background(), Request{URL: server.URL, Charset: forced})
		if err != nil {
			t.Fatal(err)
		}
		if string(resp.Body) != "<title>山田花子</title>" {
			t.Errorf("Charset %q: Body = %q", forced, resp.Body)
		}
	}
}
