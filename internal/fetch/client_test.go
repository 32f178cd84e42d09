package fetch

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/any-hub/swcache/internal/config"
	"github.com/any-hub/swcache/internal/policy"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := config.GlobalConfig{UpstreamTimeout: config.Duration(45 * time.Second)}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	if NewUpstreamClient(config.GlobalConfig{}).Timeout != 30*time.Second {
		t.Fatalf("expected default timeout 30s")
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	if _, exists := dst["Connection"]; exists {
		t.Fatalf("connection header should not be copied")
	}
	if _, exists := dst["Keep-Alive"]; exists {
		t.Fatalf("keep-alive header should not be copied")
	}

	got := dst.Values("X-Test-Header")
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}

func newRequest(t *testing.T, method, url string, mode policy.Mode, header http.Header) policy.Request {
	t.Helper()
	req, err := policy.NewRequest(method, url, mode, header, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func TestFetchCapturesResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Client") != "web" {
			t.Errorf("request header not forwarded")
		}
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte("body{}"))
	}))
	defer upstream.Close()

	f := New(nil, nil, upstream.URL)
	resp, err := f.Fetch(context.Background(), newRequest(t, "GET", upstream.URL+"/a.css", policy.ModeNoCORS, http.Header{"X-Client": {"web"}}))
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if resp.Status() != http.StatusOK || resp.Header().Get("Content-Type") != "text/css" {
		t.Fatalf("unexpected response: %d %v", resp.Status(), resp.Header())
	}
	if resp.Redirected() || resp.Opaque() || !resp.Cacheable() {
		t.Fatalf("same-origin 200 should be cacheable")
	}
	body, _ := resp.Bytes()
	if string(body) != "body{}" {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestFetchMarksRedirected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("moved"))
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	resp, err := New(nil, nil, upstream.URL).Fetch(context.Background(), newRequest(t, "GET", upstream.URL+"/old", policy.ModeNoCORS, nil))
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !resp.Redirected() || resp.URL() != upstream.URL+"/new" {
		t.Fatalf("expected redirected to /new, got redirected=%v url=%s", resp.Redirected(), resp.URL())
	}
	if resp.Cacheable() {
		t.Fatalf("redirected response must not be cacheable")
	}
}

func TestFetchMarksCrossOriginNoCORSOpaque(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pixel"))
	}))
	defer upstream.Close()

	f := New(nil, nil, "https://app.example.com")
	resp, err := f.Fetch(context.Background(), newRequest(t, "GET", upstream.URL+"/p.gif", policy.ModeNoCORS, nil))
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !resp.Opaque() {
		t.Fatalf("cross-origin no-cors response should be opaque")
	}

	resp, err = f.Fetch(context.Background(), newRequest(t, "GET", upstream.URL+"/p.gif", policy.ModeCORS, nil))
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if resp.Opaque() {
		t.Fatalf("cors response should not be opaque")
	}
}

func TestFetchDecodesCompressedBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte("plain text"))
		_ = gz.Close()
	}))
	defer upstream.Close()

	header := http.Header{"Accept-Encoding": {"gzip, br"}}
	resp, err := New(nil, nil, upstream.URL).Fetch(context.Background(), newRequest(t, "GET", upstream.URL+"/", policy.ModeNoCORS, header))
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if resp.Header().Get("Content-Encoding") != "" {
		t.Fatalf("stored response should be decoded, got encoding %q", resp.Header().Get("Content-Encoding"))
	}
	body, _ := resp.Bytes()
	if string(body) != "plain text" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestFetchNetworkFailure(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	if _, err := New(nil, nil, url).Fetch(context.Background(), newRequest(t, "GET", url+"/", policy.ModeNavigate, nil)); err == nil {
		t.Fatalf("expected network error from closed upstream")
	}
}

func TestFetchReturnsErrorStatusAsResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	resp, err := New(nil, nil, upstream.URL).Fetch(context.Background(), newRequest(t, "GET", upstream.URL+"/", policy.ModeNoCORS, nil))
	if err != nil {
		t.Fatalf("http errors are responses, got %v", err)
	}
	if resp.Status() != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Status())
	}
}

func TestForwardDoesNotFollowRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer upstream.Close()

	f := New(NewUpstreamClient(config.GlobalConfig{}), NewPassthroughClient(config.GlobalConfig{}), upstream.URL)
	resp, err := f.Forward(context.Background(), newRequest(t, "GET", upstream.URL+"/login", policy.ModeNavigate, nil))
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/elsewhere" {
		t.Fatalf("expected raw 302, got %d %s", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestGetUsesSameOriginMode(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.UserAgent(), "swcache/") {
			t.Errorf("unexpected user agent %q", r.UserAgent())
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	resp, err := New(nil, nil, "https://other.example").Get(context.Background(), upstream.URL+"/manifest.json")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if resp.Opaque() {
		t.Fatalf("seed fetches are never opaque")
	}
}
