package offlinecache

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	requestkey "github.com/offline-cache/offline-cache/pkg/request-key"
)

func TestPrecachePopulatesIdentityPartition(t *testing.T) {
	sender := &fakeSender{respond: respondWith(http.StatusOK, "asset")}
	o, mem := newTestCache(sender, Config{})
	manifest := []string{
		"http://origin.test/",
		"http://origin.test/offline.html",
		"http://origin.test/app.css",
	}

	if err := o.Precache(context.Background(), manifest); err != nil {
		t.Fatal(err)
	}

	if count, _ := mem.Count(PartitionPrecache); count != 3 {
		t.Fatalf("Precache partition has %d entries, expected 3", count)
	}
	req, _ := http.NewRequest(http.MethodGet, "http://origin.test/offline.html", nil)
	if _, ok, _ := mem.Get(PartitionPrecache, requestkey.ForRequest(req)); !ok {
		t.Fatal("Offline page missing from precache partition")
	}
}

func TestPrecacheFailsWhenAnyResourceFails(t *testing.T) {
	sender := &fakeSender{respond: func(r *http.Request) (*http.Response, error) {
		if strings.HasSuffix(r.URL.Path, "missing.css") {
			return respondWith(http.StatusNotFound, "nope")(r)
		}
		return respondWith(http.StatusOK, "asset")(r)
	}}
	o, _ := newTestCache(sender, Config{})

	err := o.Precache(context.Background(), []string{
		"http://origin.test/",
		"http://origin.test/missing.css",
	})

	if err == nil {
		t.Fatal("Expected install to fail")
	}
	if !strings.Contains(err.Error(), "missing.css") {
		t.Fatalf("Error does not name the failing resource: %v", err)
	}
}

func TestCacheURLsIsBestEffort(t *testing.T) {
	sender := &fakeSender{respond: func(r *http.Request) (*http.Response, error) {
		if strings.HasSuffix(r.URL.Path, "/bad") {
			return alwaysFail(r)
		}
		return respondWith(http.StatusOK, "ok")(r)
	}}
	o, mem := newTestCache(sender, Config{})

	o.CacheURLs(context.Background(), []string{
		"http://origin.test/bad",
		"http://origin.test/good",
	})

	if count, _ := mem.Count(PartitionDynamic); count != 1 {
		t.Fatalf("Dynamic partition has %d entries, expected 1", count)
	}
}

func TestClearCacheDropsEverything(t *testing.T) {
	sender := &fakeSender{respond: respondWith(http.StatusOK, "x")}
	o, mem := newTestCache(sender, Config{})
	seedEntry(t, mem, PartitionStatic, "http://origin.test/a.css", "x", time.Now())
	seedEntry(t, mem, PartitionPrecache, "http://origin.test/offline.html", "x", time.Now())

	if err := o.ClearCache(); err != nil {
		t.Fatal(err)
	}

	partitions, _ := mem.Partitions()
	if len(partitions) != 0 {
		t.Fatalf("Partitions remaining: %v", partitions)
	}
}

func TestPurgePartitionsExceptKeepsConfigured(t *testing.T) {
	sender := &fakeSender{respond: respondWith(http.StatusOK, "x")}
	o, mem := newTestCache(sender, Config{})
	seedEntry(t, mem, PartitionStatic, "http://origin.test/a.css", "x", time.Now())
	seedEntry(t, mem, "v1-leftover", "http://origin.test/old", "x", time.Now())

	if err := o.PurgePartitionsExcept(o.PartitionNames()); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := mem.Get("v1-leftover", "GET:http://origin.test/old"); ok {
		t.Fatal("Stale partition survived")
	}
	if count, _ := mem.Count(PartitionStatic); count != 1 {
		t.Fatal("Configured partition was purged")
	}
}
