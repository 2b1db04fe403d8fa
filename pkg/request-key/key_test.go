package requestkey

import (
	"net/http"
	"testing"
)

func TestForRequest(t *testing.T) {
	tests := []struct {
		method string
		url    string
		key    string
	}{
		{"GET", "http://origin.test/users", "GET:http://origin.test/users"},
		// fragment never reaches the server, drop it
		{"GET", "http://origin.test/page#section", "GET:http://origin.test/page"},
		// host casing and default ports are not significant
		{"GET", "http://Origin.TEST:80/users", "GET:http://origin.test/users"},
		{"GET", "https://origin.test:443/users", "GET:https://origin.test/users"},
		{"GET", "http://origin.test:8080/users", "GET:http://origin.test:8080/users"},
		// bare origin gets a path
		{"GET", "http://origin.test", "GET:http://origin.test/"},
		{"HEAD", "http://origin.test/users", "HEAD:http://origin.test/users"},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(tt.method, tt.url, nil)
		if err != nil {
			t.Fatal(err)
		}
		if key := ForRequest(req); key != tt.key {
			t.Fatalf("Key for %s %s is %q, expected %q", tt.method, tt.url, key, tt.key)
		}
	}
}

func TestQueryParameterOrderIsNotSignificant(t *testing.T) {
	a, _ := http.NewRequest("GET", "http://origin.test/search?q=go&page=2", nil)
	b, _ := http.NewRequest("GET", "http://origin.test/search?page=2&q=go", nil)
	if ForRequest(a) != ForRequest(b) {
		t.Fatalf("Keys differ: %q vs %q", ForRequest(a), ForRequest(b))
	}
}

func TestDifferentQueriesGetDifferentKeys(t *testing.T) {
	a, _ := http.NewRequest("GET", "http://origin.test/search?q=go", nil)
	b, _ := http.NewRequest("GET", "http://origin.test/search?q=rust", nil)
	if ForRequest(a) == ForRequest(b) {
		t.Fatal("Distinct queries share a key")
	}
}

func TestMethod(t *testing.T) {
	req, _ := http.NewRequest("GET", "http://origin.test/x", nil)
	if m := Method(ForRequest(req)); m != "GET" {
		t.Fatalf("Method is %q", m)
	}
	if m := Method("malformed"); m != "" {
		t.Fatalf("Method of malformed key is %q", m)
	}
}
