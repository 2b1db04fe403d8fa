// Package offlinecache intercepts outbound HTTP requests and serves them
// from named cache partitions, the network, or both, according to
// route-based strategies. It trades freshness for availability under
// unreliable connectivity.
package offlinecache

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	requestkey "github.com/offline-cache/offline-cache/pkg/request-key"
	"github.com/offline-cache/offline-cache/queue"
	"github.com/offline-cache/offline-cache/store"
	"github.com/offline-cache/offline-cache/transport"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Sender delivers a single request. Satisfied by *transport.Transport.
type Sender interface {
	Do(*http.Request) (*http.Response, error)
}

type Config struct {
	// Storage for cache entries.
	Store store.Store
	// Routing rules, evaluated in order. Defaults to DefaultRules.
	Rules Rules
	// Transport used for cacheable requests. Defaults to the resilient
	// transport with its default timeout and retry settings.
	Transport Sender
	// Base round tripper for passed-through requests (non-GET, non-HTTP
	// schemes). Defaults to http.DefaultTransport.
	Base http.RoundTripper
	// Queue for failed mutating requests. Optional.
	Queue *queue.Queue
	// OfflineURL is the precached page served to navigations that miss
	// both network and cache. Optional.
	OfflineURL string
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Metrics collector. Optional.
	Metrics *Metrics
}

// OfflineCache is an http.RoundTripper implementing the caching strategies.
// Wrap a client's transport with it to intercept outbound requests.
type OfflineCache struct {
	store      store.Store
	rules      Rules
	transport  Sender
	base       http.RoundTripper
	queue      *queue.Queue
	offlineKey string
	log        zerolog.Logger
	metrics    *Metrics
	refreshes  singleflight.Group
	now        func() time.Time
}

// New initializes the offline cache.
func New(config Config) *OfflineCache {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	rules := config.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	sender := config.Transport
	if sender == nil {
		sender = transport.New(transport.WithLogger(logger))
	}
	base := config.Base
	if base == nil {
		base = http.DefaultTransport
	}

	o := &OfflineCache{
		store:     config.Store,
		rules:     rules,
		transport: sender,
		base:      base,
		queue:     config.Queue,
		log:       logger,
		metrics:   config.Metrics,
		now:       time.Now,
	}
	if config.OfflineURL != "" {
		if req, err := http.NewRequest(http.MethodGet, config.OfflineURL, nil); err == nil {
			o.offlineKey = requestkey.ForRequest(req)
		} else {
			logger.Error().Err(err).Str("url", config.OfflineURL).Msg("Invalid offline page URL")
		}
	}
	return o
}

// RoundTrip implements http.RoundTripper. It is the interception boundary:
// GET requests over HTTP(S) are dispatched to the resolved strategy, all
// other requests pass through the base transport untouched.
func (o *OfflineCache) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return o.base.RoundTrip(req)
	}
	if req.Method != http.MethodGet {
		return o.base.RoundTrip(req)
	}

	rule := o.rules.Classify(req)
	o.metrics.RecordRequest(rule.Strategy)
	logger := o.log.With().
		Str("url", req.URL.String()).
		Str("rule", rule.Name).
		Str("strategy", string(rule.Strategy)).
		Logger()

	key := requestkey.ForRequest(req)
	switch rule.Strategy {
	case StrategyCacheFirst:
		return o.cacheFirst(req, rule, key, logger)
	case StrategyNetworkFirst:
		return o.networkFirst(req, rule, key, logger)
	case StrategyStaleWhileRevalidate:
		return o.staleWhileRevalidate(req, rule, key, logger)
	case StrategyCacheOnly:
		return o.cacheOnly(req, rule, key, logger)
	case StrategyNetworkOnly:
		return o.networkOnly(req)
	default:
		logger.Error().Msg("Unknown strategy, passing through")
		return o.networkOnly(req)
	}
}

// Enqueue persists a mutating request for later redelivery.
// It is the host-facing submission API for requests whose immediate
// delivery attempt failed.
func (o *OfflineCache) Enqueue(req *http.Request, body []byte) (string, error) {
	if o.queue == nil {
		return "", errNoQueue
	}
	return o.queue.Enqueue(req.Method, req.URL.String(), req.Header, body)
}

// ProcessQueue redelivers queued mutating requests. It is triggered by the
// host's sync signal.
func (o *OfflineCache) ProcessQueue(ctx context.Context) error {
	if o.queue == nil {
		return errNoQueue
	}
	err := o.queue.Process(ctx)
	if depth, lenErr := o.queue.Len(); lenErr == nil {
		o.metrics.SetQueueDepth(depth)
	}
	return err
}

func isSuccess(res *http.Response) bool {
	return res.StatusCode >= 200 && res.StatusCode < 300
}

// unavailable synthesizes the response returned when neither cache nor
// network can serve the request.
func (o *OfflineCache) unavailable(req *http.Request) *http.Response {
	o.metrics.RecordUnavailable()
	body := "offline: upstream unavailable"
	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("X-Offline-Cache", "unavailable")
	return &http.Response{
		StatusCode:    http.StatusServiceUnavailable,
		Status:        http.StatusText(http.StatusServiceUnavailable),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
