package policy

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/any-hub/swcache/internal/cache"
	"github.com/any-hub/swcache/internal/event"
)

const shellURL = "https://app.example.com/"

type fakeFetcher struct {
	mu     sync.Mutex
	calls  atomic.Int32
	err    error
	byURL  map[string]cache.ResponseInit
	bodies map[string]string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{byURL: map[string]cache.ResponseInit{}, bodies: map[string]string{}}
}

func (f *fakeFetcher) set(url string, init cache.ResponseInit, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byURL[url] = init
	f.bodies[url] = body
}

func (f *fakeFetcher) Fetch(_ context.Context, req Request) (*cache.Response, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	init, ok := f.byURL[req.URL()]
	if !ok {
		return cache.NewResponse(cache.ResponseInit{Status: http.StatusNotFound, URL: req.URL()}, nil), nil
	}
	if init.URL == "" {
		init.URL = req.URL()
	}
	return cache.NewBytesResponse(init, []byte(f.bodies[req.URL()])), nil
}

type failingStore struct{ cache.Store }

func (failingStore) Put(context.Context, cache.Key, *cache.Response) error {
	return errors.New("disk full")
}

type harness struct {
	policy  *Policy
	fetcher *fakeFetcher
	store   cache.Store
	tracker *event.Tracker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	storage, err := cache.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	store, err := storage.Open(context.Background(), "app-v1")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	fetcher := newFakeFetcher()
	p, err := New(Options{Rules: testRuleTable(t), Fetcher: fetcher, ShellURL: shellURL})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	return &harness{policy: p, fetcher: fetcher, store: store, tracker: event.NewTracker()}
}

// run 执行动作并等待后台写入完成。
func (h *harness) run(t *testing.T, req Request) (*cache.Response, event.Action) {
	t.Helper()
	action := h.policy.Decide(req, h.store)
	if action.Kind != event.KindRespond {
		return nil, action
	}
	life := h.tracker.Begin(context.Background())
	resp, err := action.Respond(context.Background(), life)
	if err != nil {
		t.Fatalf("respond task failed: %v", err)
	}
	if err := life.Wait(); err != nil {
		t.Fatalf("deferred work failed: %v", err)
	}
	return resp, action
}

func (h *harness) seed(t *testing.T, url, body string) {
	t.Helper()
	resp := cache.NewBytesResponse(cache.ResponseInit{Status: http.StatusOK, URL: url}, []byte(body))
	if err := h.store.Put(context.Background(), cache.NewKey("GET", url), resp); err != nil {
		t.Fatalf("seed %s: %v", url, err)
	}
}

func readBody(t *testing.T, resp *cache.Response) string {
	t.Helper()
	data, err := resp.Bytes()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func TestDecideExcludedIsPassthrough(t *testing.T) {
	h := newHarness(t)
	_, action := h.run(t, mustRequest(t, "GET", "https://demo.firebaseio.com/data.json", ModeCORS))
	if action.Kind != event.KindPassthrough {
		t.Fatalf("expected passthrough, got %s", action.Kind)
	}
	if h.fetcher.calls.Load() != 0 {
		t.Fatalf("passthrough should not use the policy fetcher")
	}
}

func TestDecideWithoutStoreIsPassthrough(t *testing.T) {
	h := newHarness(t)
	action := h.policy.Decide(mustRequest(t, "GET", "https://app.example.com/a.js", ModeNoCORS), nil)
	if action.Kind != event.KindPassthrough {
		t.Fatalf("expected passthrough before activation, got %s", action.Kind)
	}
}

func TestCacheHitSkipsNetwork(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "https://app.example.com/app.js", "cached")
	h.fetcher.set("https://app.example.com/app.js", cache.ResponseInit{Status: 200}, "fresh")

	resp, _ := h.run(t, mustRequest(t, "GET", "https://app.example.com/app.js", ModeNoCORS))
	if got := readBody(t, resp); got != "cached" {
		t.Fatalf("expected cached body, got %q", got)
	}
	if resp.Header().Get(SourceHeader) != string(SourceCache) {
		t.Fatalf("expected cache source, got %q", resp.Header().Get(SourceHeader))
	}
	if h.fetcher.calls.Load() != 0 {
		t.Fatalf("cache hit must not touch the network")
	}
}

func TestCacheMissFetchesAndStores(t *testing.T) {
	h := newHarness(t)
	url := "https://www.gstatic.com/firebasejs/9.0.0/app.js"
	h.fetcher.set(url, cache.ResponseInit{Status: 200, Header: http.Header{"Content-Type": {"text/javascript"}}}, "sdk")

	resp, _ := h.run(t, mustRequest(t, "GET", url, ModeNoCORS))
	if got := readBody(t, resp); got != "sdk" {
		t.Fatalf("expected network body, got %q", got)
	}
	if resp.Header().Get(SourceHeader) != string(SourceNetwork) {
		t.Fatalf("expected network source")
	}

	stored, err := h.store.Match(context.Background(), cache.NewKey("GET", url))
	if err != nil {
		t.Fatalf("expected stored entry: %v", err)
	}
	if got := readBody(t, stored); got != "sdk" {
		t.Fatalf("stored body mismatch: %q", got)
	}
	if stored.Header().Get("Content-Type") != "text/javascript" {
		t.Fatalf("stored header mismatch")
	}

	h.run(t, mustRequest(t, "GET", url, ModeNoCORS))
	if h.fetcher.calls.Load() != 1 {
		t.Fatalf("second request should be served from cache, fetch calls=%d", h.fetcher.calls.Load())
	}
}

func TestUncacheableResponsesAreNotStored(t *testing.T) {
	testCases := []struct {
		name   string
		method string
		init   cache.ResponseInit
		status int
	}{
		{"not found", "GET", cache.ResponseInit{Status: 404}, 404},
		{"server error", "GET", cache.ResponseInit{Status: 500}, 500},
		{"redirected", "GET", cache.ResponseInit{Status: 200, Redirected: true, URL: "https://app.example.com/login"}, 200},
		{"opaque", "GET", cache.ResponseInit{Status: 200, Opaque: true}, 200},
		{"post", "POST", cache.ResponseInit{Status: 200}, 200},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			url := "https://app.example.com/resource"
			h.fetcher.set(url, tc.init, "x")

			resp, _ := h.run(t, mustRequest(t, tc.method, url, ModeNoCORS))
			if resp.Status() != tc.status {
				t.Fatalf("expected status %d passed through, got %d", tc.status, resp.Status())
			}
			keys, err := h.store.Keys(context.Background())
			if err != nil {
				t.Fatalf("list keys: %v", err)
			}
			if len(keys) != 0 {
				t.Fatalf("expected no stored entries, got %v", keys)
			}
		})
	}
}

func TestNetworkFailureNavigationServesShell(t *testing.T) {
	h := newHarness(t)
	h.seed(t, shellURL, "<html>shell</html>")
	h.fetcher.err = errors.New("connection refused")

	resp, _ := h.run(t, mustRequest(t, "GET", "https://app.example.com/deep/link", ModeNavigate))
	if got := readBody(t, resp); got != "<html>shell</html>" {
		t.Fatalf("expected shell body, got %q", got)
	}
	if resp.Header().Get(SourceHeader) != string(SourceFallback) {
		t.Fatalf("expected fallback source")
	}
}

func TestNetworkFailureNonNavigationIsEmpty503(t *testing.T) {
	h := newHarness(t)
	h.seed(t, shellURL, "<html>shell</html>")
	h.fetcher.err = errors.New("connection refused")

	resp, _ := h.run(t, mustRequest(t, "GET", "https://app.example.com/api/data", ModeCORS))
	if resp.Status() != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Status())
	}
	if got := readBody(t, resp); got != "" {
		t.Fatalf("expected empty body, got %q", got)
	}
}

func TestNetworkFailureNavigationWithoutShellIs503(t *testing.T) {
	h := newHarness(t)
	h.fetcher.err = errors.New("timeout")

	resp, _ := h.run(t, mustRequest(t, "GET", "https://app.example.com/", ModeNavigate))
	if resp.Status() != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without shell, got %d", resp.Status())
	}
}

func TestCacheWriteFailureDoesNotAffectResponse(t *testing.T) {
	h := newHarness(t)
	h.store = failingStore{Store: h.store}
	url := "https://app.example.com/style.css"
	h.fetcher.set(url, cache.ResponseInit{Status: 200}, "body{}")

	resp, _ := h.run(t, mustRequest(t, "GET", url, ModeNoCORS))
	if got := readBody(t, resp); got != "body{}" {
		t.Fatalf("expected network body despite write failure, got %q", got)
	}
}

func TestNewRequiresFetcherAndShell(t *testing.T) {
	if _, err := New(Options{ShellURL: shellURL}); err == nil {
		t.Fatalf("expected error without fetcher")
	}
	if _, err := New(Options{Fetcher: newFakeFetcher()}); err == nil {
		t.Fatalf("expected error without shell url")
	}
}
