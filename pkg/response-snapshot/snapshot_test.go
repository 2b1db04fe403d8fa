package snapshot

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestRoundtrip(t *testing.T) {
	storedAt := time.Now().Truncate(time.Second)
	original := Snapshot{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"Content-Type": []string{"application/json"},
			"Etag":         []string{`"abc"`},
		},
		Body:     []byte(`{"users":[]}`),
		StoredAt: storedAt,
	}

	bytes, err := original.ToBytes()
	if err != nil {
		t.Fatal(err)
	}
	restored, err := FromBytes(bytes)
	if err != nil {
		t.Fatal(err)
	}

	if restored.StatusCode != http.StatusOK {
		t.Fatalf("Status is %d", restored.StatusCode)
	}
	if ct := restored.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type is %q", ct)
	}
	if string(restored.Body) != `{"users":[]}` {
		t.Fatalf("Body is %q", restored.Body)
	}
	if !restored.StoredAt.Equal(storedAt) {
		t.Fatalf("StoredAt is %s, expected %s", restored.StoredAt, storedAt)
	}
	if restored.Header.Get("Offline-Cache-Stored-At") != "" {
		t.Fatal("Timestamp header leaked into restored headers")
	}
}

func TestCaptureLeavesBodyReadable(t *testing.T) {
	res := &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("payload")),
	}

	snap, err := Capture(res, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	if string(snap.Body) != "payload" {
		t.Fatalf("Snapshot body is %q", snap.Body)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil || string(body) != "payload" {
		t.Fatalf("Response body no longer readable: %q err=%v", body, err)
	}
}

func TestResponseMaterializesFreshBodyPerCall(t *testing.T) {
	snap := Snapshot{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte("cached"),
		StoredAt:   time.Now(),
	}
	req, _ := http.NewRequest("GET", "http://origin.test/x", nil)

	for i := 0; i < 2; i++ {
		res := snap.Response(req)
		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil || string(body) != "cached" {
			t.Fatalf("Read %d got %q err=%v", i, body, err)
		}
	}
}

func TestAge(t *testing.T) {
	now := time.Now()
	snap := Snapshot{StoredAt: now.Add(-90 * time.Second)}
	if age := snap.Age(now); age != 90*time.Second {
		t.Fatalf("Age is %s", age)
	}
}
