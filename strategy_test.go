package offlinecache

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	requestkey "github.com/offline-cache/offline-cache/pkg/request-key"
	snapshot "github.com/offline-cache/offline-cache/pkg/response-snapshot"
	"github.com/offline-cache/offline-cache/store"

	"github.com/rs/zerolog"
)

type fakeSender struct {
	mu      sync.Mutex
	calls   int
	respond func(*http.Request) (*http.Response, error)
}

func (f *fakeSender) Do(r *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.respond(r)
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func respondWith(status int, body string) func(*http.Request) (*http.Response, error) {
	return func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"text/plain"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	}
}

func alwaysFail(r *http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func newTestCache(sender Sender, config Config) (*OfflineCache, store.Memory) {
	mem := store.NewMemory()
	logger := zerolog.Nop()
	config.Store = mem
	config.Transport = sender
	config.Logger = &logger
	return New(config), mem
}

func seedEntry(t *testing.T, mem store.Memory, partition, url, body string, storedAt time.Time) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	key := requestkey.ForRequest(req)
	snap := snapshot.Snapshot{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte(body),
		StoredAt:   storedAt,
	}
	bytes, err := snap.ToBytes()
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.Put(partition, key, storedAt, bytes); err != nil {
		t.Fatal(err)
	}
	return key
}

func getThrough(t *testing.T, o *OfflineCache, url string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for name, values := range header {
		req.Header[name] = values
	}
	res, err := o.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	return res
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

const (
	staticURL = "http://origin.test/app.css"
	apiURL    = "http://origin.test/api/users"
	pageURL   = "http://origin.test/about"
)

var navigationHeader = http.Header{"Accept": []string{"text/html"}}

func ago(d time.Duration) time.Time {
	return time.Now().Add(-d).Truncate(time.Second)
}

func TestCacheFirstFreshHitSkipsNetwork(t *testing.T) {
	sender := &fakeSender{respond: respondWith(http.StatusOK, "from network")}
	o, mem := newTestCache(sender, Config{})
	seedEntry(t, mem, PartitionStatic, staticURL, "from cache", ago(time.Hour))

	res := getThrough(t, o, staticURL, nil)

	if body := readBody(t, res); body != "from cache" {
		t.Fatalf("Body is %q", body)
	}
	if sender.count() != 0 {
		t.Fatalf("Network called %d times for a fresh hit", sender.count())
	}
}

func TestCacheFirstStaleHitReturnsStaleAndRefreshes(t *testing.T) {
	sender := &fakeSender{respond: respondWith(http.StatusOK, "refreshed")}
	o, mem := newTestCache(sender, Config{})
	key := seedEntry(t, mem, PartitionStatic, staticURL, "stale", ago(31*24*time.Hour))

	res := getThrough(t, o, staticURL, nil)

	// the stale entry is what the caller gets, immediately
	if body := readBody(t, res); body != "stale" {
		t.Fatalf("Body is %q", body)
	}
	// exactly one background refresh updates the partition
	waitFor(t, "background refresh", func() bool {
		entry, ok, _ := mem.Get(PartitionStatic, key)
		if !ok {
			return false
		}
		snap, err := snapshot.FromBytes(entry.Bytes)
		return err == nil && string(snap.Body) == "refreshed"
	})
	if sender.count() != 1 {
		t.Fatalf("Network called %d times, expected 1", sender.count())
	}
}

func TestCacheFirstRefreshFailureLeavesEntryUntouched(t *testing.T) {
	sender := &fakeSender{respond: alwaysFail}
	o, mem := newTestCache(sender, Config{})
	key := seedEntry(t, mem, PartitionStatic, staticURL, "stale", ago(31*24*time.Hour))

	for i := 1; i <= 3; i++ {
		res := getThrough(t, o, staticURL, nil)
		if body := readBody(t, res); body != "stale" {
			t.Fatalf("Read %d returned %q", i, body)
		}
		attempts := i
		waitFor(t, "refresh attempt", func() bool { return sender.count() >= attempts })
		// let the collapsed refresh wind down before the next read
		time.Sleep(20 * time.Millisecond)
	}

	entry, ok, _ := mem.Get(PartitionStatic, key)
	if !ok {
		t.Fatal("Entry disappeared")
	}
	snap, err := snapshot.FromBytes(entry.Bytes)
	if err != nil || string(snap.Body) != "stale" {
		t.Fatalf("Entry changed: %q err=%v", snap.Body, err)
	}
}

func TestCacheFirstMissFetchesAndStores(t *testing.T) {
	sender := &fakeSender{respond: respondWith(http.StatusOK, "fetched")}
	o, mem := newTestCache(sender, Config{})

	res := getThrough(t, o, staticURL, nil)

	if body := readBody(t, res); body != "fetched" {
		t.Fatalf("Body is %q", body)
	}
	req, _ := http.NewRequest(http.MethodGet, staticURL, nil)
	if _, ok, _ := mem.Get(PartitionStatic, requestkey.ForRequest(req)); !ok {
		t.Fatal("Response was not stored")
	}
}

func TestCacheFirstMissOfflineSynthesizesUnavailable(t *testing.T) {
	sender := &fakeSender{respond: alwaysFail}
	o, _ := newTestCache(sender, Config{})

	res := getThrough(t, o, staticURL, nil)

	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Status is %d, expected 503", res.StatusCode)
	}
	if res.Header.Get("X-Offline-Cache") != "unavailable" {
		t.Fatal("Missing unavailable marker header")
	}
}

func TestNetworkFirstStoresSuccessfulResponse(t *testing.T) {
	sender := &fakeSender{respond: respondWith(http.StatusOK, "fresh page")}
	o, mem := newTestCache(sender, Config{})

	res := getThrough(t, o, pageURL, navigationHeader)

	if body := readBody(t, res); body != "fresh page" {
		t.Fatalf("Body is %q", body)
	}
	keys, _ := mem.Keys(PartitionPages)
	if len(keys) != 1 {
		t.Fatalf("Pages partition has %d entries", len(keys))
	}
}

func TestNetworkFirstDoesNotStoreErrorResponse(t *testing.T) {
	sender := &fakeSender{respond: respondWith(http.StatusNotFound, "nope")}
	o, mem := newTestCache(sender, Config{})

	res := getThrough(t, o, pageURL, navigationHeader)

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("Status is %d", res.StatusCode)
	}
	readBody(t, res)
	if count, _ := mem.Count(PartitionPages); count != 0 {
		t.Fatalf("Error response was stored")
	}
}

func TestNetworkFirstFallsBackToCache(t *testing.T) {
	sender := &fakeSender{respond: alwaysFail}
	o, mem := newTestCache(sender, Config{})
	seedEntry(t, mem, PartitionPages, pageURL, "cached page", ago(time.Hour))

	res := getThrough(t, o, pageURL, navigationHeader)

	if body := readBody(t, res); body != "cached page" {
		t.Fatalf("Body is %q", body)
	}
}

func TestNetworkFirstNavigationFallsBackToOfflinePage(t *testing.T) {
	offlineURL := "http://origin.test/offline.html"
	sender := &fakeSender{respond: alwaysFail}
	o, mem := newTestCache(sender, Config{OfflineURL: offlineURL})
	seedEntry(t, mem, PartitionPrecache, offlineURL, "you are offline", ago(time.Minute))

	res := getThrough(t, o, pageURL, navigationHeader)

	if body := readBody(t, res); body != "you are offline" {
		t.Fatalf("Body is %q", body)
	}
}

func TestNetworkFirstNavigationWithoutOfflinePagePropagates(t *testing.T) {
	sender := &fakeSender{respond: alwaysFail}
	o, _ := newTestCache(sender, Config{})

	req, _ := http.NewRequest(http.MethodGet, pageURL, nil)
	req.Header = navigationHeader.Clone()
	_, err := o.RoundTrip(req)

	if err == nil {
		t.Fatal("Expected the transport error to propagate")
	}
}

func TestNetworkFirstNonNavigationMissSynthesizesUnavailable(t *testing.T) {
	sender := &fakeSender{respond: alwaysFail}
	o, _ := newTestCache(sender, Config{})

	// no Accept header: not a navigation, classified by the default rule
	res := getThrough(t, o, "http://origin.test/feed.json", nil)

	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Status is %d, expected 503", res.StatusCode)
	}
}

func TestStaleWhileRevalidateServesCachedAndRefreshes(t *testing.T) {
	sender := &fakeSender{respond: respondWith(http.StatusOK, "v2")}
	o, mem := newTestCache(sender, Config{})
	key := seedEntry(t, mem, PartitionAPI, apiURL, "v1", ago(time.Second))

	res := getThrough(t, o, apiURL, nil)

	// cached value returned even though it is still fresh
	if body := readBody(t, res); body != "v1" {
		t.Fatalf("Body is %q", body)
	}
	waitFor(t, "background refresh", func() bool {
		entry, ok, _ := mem.Get(PartitionAPI, key)
		if !ok {
			return false
		}
		snap, err := snapshot.FromBytes(entry.Bytes)
		return err == nil && string(snap.Body) == "v2"
	})
}

func TestStaleWhileRevalidateMissAwaitsNetwork(t *testing.T) {
	sender := &fakeSender{respond: respondWith(http.StatusOK, "first")}
	o, mem := newTestCache(sender, Config{})

	res := getThrough(t, o, apiURL, nil)

	if body := readBody(t, res); body != "first" {
		t.Fatalf("Body is %q", body)
	}
	if count, _ := mem.Count(PartitionAPI); count != 1 {
		t.Fatal("Response was not stored")
	}
}

func TestCacheOnly(t *testing.T) {
	rules := Rules{{
		Name:      "offline-reads",
		Match:     MatchPathPrefix("/archive/"),
		Strategy:  StrategyCacheOnly,
		Partition: PartitionDynamic,
	}}
	sender := &fakeSender{respond: respondWith(http.StatusOK, "never")}
	o, mem := newTestCache(sender, Config{Rules: rules})
	url := "http://origin.test/archive/2020"
	seedEntry(t, mem, PartitionDynamic, url, "archived", ago(time.Hour))

	res := getThrough(t, o, url, nil)
	if body := readBody(t, res); body != "archived" {
		t.Fatalf("Body is %q", body)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://origin.test/archive/2021", nil)
	if _, err := o.RoundTrip(req); !errors.Is(err, ErrNoCachedEntry) {
		t.Fatalf("Error is %v, expected ErrNoCachedEntry", err)
	}
	if sender.count() != 0 {
		t.Fatalf("Network called %d times by cache-only", sender.count())
	}
}

func TestNetworkOnlyPropagatesErrorAndSkipsStore(t *testing.T) {
	rules := Rules{{
		Name:      "auth",
		Match:     MatchPathPrefix("/auth/"),
		Strategy:  StrategyNetworkOnly,
		Partition: PartitionDynamic,
	}}
	sender := &fakeSender{respond: alwaysFail}
	o, mem := newTestCache(sender, Config{Rules: rules})

	req, _ := http.NewRequest(http.MethodGet, "http://origin.test/auth/session", nil)
	_, err := o.RoundTrip(req)

	if err == nil {
		t.Fatal("Expected error to propagate")
	}
	if count, _ := mem.Count(PartitionDynamic); count != 0 {
		t.Fatal("Network-only stored an entry")
	}
}

func TestNonGetPassesThrough(t *testing.T) {
	baseCalls := 0
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		baseCalls++
		return respondWith(http.StatusCreated, "created")(r)
	})
	sender := &fakeSender{respond: respondWith(http.StatusOK, "never")}
	o, _ := newTestCache(sender, Config{Base: base})

	req, _ := http.NewRequest(http.MethodPost, "http://origin.test/api/users", strings.NewReader("{}"))
	res, err := o.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, res)

	if baseCalls != 1 {
		t.Fatalf("Base transport called %d times", baseCalls)
	}
	if sender.count() != 0 {
		t.Fatal("Strategy transport used for a POST")
	}
}

func TestNonHTTPSchemePassesThrough(t *testing.T) {
	baseCalls := 0
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		baseCalls++
		return respondWith(http.StatusOK, "raw")(r)
	})
	sender := &fakeSender{respond: respondWith(http.StatusOK, "never")}
	o, _ := newTestCache(sender, Config{Base: base})

	req := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Scheme: "file", Path: "/local"},
		Header: make(http.Header),
	}
	res, err := o.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, res)

	if baseCalls != 1 {
		t.Fatalf("Base transport called %d times", baseCalls)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
