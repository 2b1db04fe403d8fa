package offlinecache

import (
	"net/http"
	"strings"
	"time"
)

// Strategy governs precedence between stored and freshly fetched data.
type Strategy string

const (
	StrategyCacheFirst           Strategy = "cache-first"
	StrategyNetworkFirst         Strategy = "network-first"
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"
	StrategyNetworkOnly          Strategy = "network-only"
	StrategyCacheOnly            Strategy = "cache-only"
)

// Well-known partition names.
const (
	PartitionStatic   = "static"
	PartitionPages    = "pages"
	PartitionAPI      = "api"
	PartitionDynamic  = "dynamic"
	PartitionPrecache = "precache"
)

// Rule maps matching requests to a serving strategy and a cache partition
// with its expiry and capacity policy.
type Rule struct {
	Name      string
	Match     func(*http.Request) bool
	Strategy  Strategy
	Partition string
	// Entries older than MaxAge are considered stale and are removed by
	// the maintenance passes. Zero disables the age check.
	MaxAge time.Duration
	// MaxEntries bounds the partition size; the oldest-inserted entries
	// are removed first. Zero means unbounded.
	MaxEntries int
}

// Rules is an ordered list of routing rules. Earlier rules win.
type Rules []Rule

// Classify resolves the rule for a request.
// Rules are tested in declaration order and the first match wins.
// If no rule matches, the default rule applies, so every request
// resolves to exactly one rule.
func (rules Rules) Classify(r *http.Request) Rule {
	for _, rule := range rules {
		if rule.Match != nil && rule.Match(r) {
			return rule
		}
	}
	return DefaultRule()
}

// DefaultRule is the synthesized rule for requests no explicit rule claims:
// network-first into a shared dynamic partition.
func DefaultRule() Rule {
	return Rule{
		Name:       "default",
		Match:      func(*http.Request) bool { return true },
		Strategy:   StrategyNetworkFirst,
		Partition:  PartitionDynamic,
		MaxAge:     24 * time.Hour,
		MaxEntries: 50,
	}
}

// DefaultRules returns the built-in rule set: long-lived static assets,
// navigations, and API reads.
func DefaultRules() Rules {
	return Rules{
		{
			Name: "static",
			Match: MatchExtensions(
				".css", ".js", ".mjs", ".png", ".jpg", ".jpeg", ".gif",
				".svg", ".ico", ".webp", ".woff", ".woff2",
			),
			Strategy:   StrategyCacheFirst,
			Partition:  PartitionStatic,
			MaxAge:     30 * 24 * time.Hour,
			MaxEntries: 100,
		},
		{
			Name:       "pages",
			Match:      MatchNavigation(),
			Strategy:   StrategyNetworkFirst,
			Partition:  PartitionPages,
			MaxAge:     7 * 24 * time.Hour,
			MaxEntries: 25,
		},
		{
			Name:       "api",
			Match:      MatchPathPrefix("/api/"),
			Strategy:   StrategyStaleWhileRevalidate,
			Partition:  PartitionAPI,
			MaxAge:     5 * time.Minute,
			MaxEntries: 50,
		},
	}
}

// MatchExtensions matches requests whose path ends in one of the given
// file extensions.
func MatchExtensions(extensions ...string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		path := strings.ToLower(r.URL.Path)
		for _, ext := range extensions {
			if strings.HasSuffix(path, ext) {
				return true
			}
		}
		return false
	}
}

// MatchNavigation matches top-level page loads: bare-origin URLs and
// requests that ask for an HTML document.
func MatchNavigation() func(*http.Request) bool {
	return func(r *http.Request) bool {
		if r.URL.Path == "" || r.URL.Path == "/" {
			return true
		}
		return isNavigation(r)
	}
}

// MatchPathPrefix matches requests whose path starts with the given prefix.
func MatchPathPrefix(prefix string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		return strings.HasPrefix(r.URL.Path, prefix)
	}
}

// isNavigation reports whether the request is a top-level navigation.
func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html")
}
