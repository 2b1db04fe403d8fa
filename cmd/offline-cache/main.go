package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	offlinecache "github.com/offline-cache/offline-cache"
	"github.com/offline-cache/offline-cache/queue"
	"github.com/offline-cache/offline-cache/store"
	"github.com/offline-cache/offline-cache/transport"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	dbFilenameFlag     string
	queueDbFlag        string
	offlineUrlFlag     string
	verbosityTraceFlag bool

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to gateway to (overrides config)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&queueDbFlag, "queue-db", "queue.db", "Retry queue DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&offlineUrlFlag, "offline-url", "", "Precached page to serve to offline navigations")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	var config Config
	if configFilenameFlag != "" {
		var err error
		config, err = getConfig(configFilenameFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not read config file")
		}
	}
	if originFlag != "" {
		config.Origin = originFlag
	}
	if config.Port <= 0 {
		config.Port = portFlag
	}
	if config.Db == "" {
		config.Db = dbFilenameFlag
	}
	if config.QueueDb == "" {
		config.QueueDb = queueDbFlag
	}
	if offlineUrlFlag != "" {
		config.OfflineUrl = offlineUrlFlag
	}
	if config.MaintenanceInterval <= 0 {
		config.MaintenanceInterval = time.Minute
	}
	if config.Origin == "" {
		log.Fatal().Msg("Please specify origin")
	}

	originURL, err := url.Parse(config.Origin)
	if err != nil || originURL.Scheme == "" || originURL.Host == "" {
		log.Fatal().Err(err).Msg("Invalid origin URL")
	}

	rules, err := config.rules()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid rules")
	}

	responses := store.NewSQLite(dbFilename(config.Db))
	queueStore := queue.NewSQLite(dbFilename(config.QueueDb))

	sender := transport.New(transport.WithLogger(log.Logger))
	retryQueue := queue.New(queueStore, sender, log.Logger)

	registry := prometheus.NewRegistry()
	metrics := offlinecache.NewMetrics(registry)

	ocache := offlinecache.New(offlinecache.Config{
		Store:      responses,
		Rules:      rules,
		Transport:  sender,
		Queue:      retryQueue,
		OfflineURL: resolveAgainst(originURL, config.OfflineUrl),
		Logger:     &log.Logger,
		Metrics:    metrics,
	})

	// lifecycle: bootstrap population, then stale-partition cleanup,
	// only then start intercepting
	manifest := make([]string, 0, len(config.Precache))
	for _, path := range config.Precache {
		manifest = append(manifest, resolveAgainst(originURL, path))
	}
	if len(manifest) > 0 {
		if err := ocache.Precache(context.Background(), manifest); err != nil {
			log.Fatal().Err(err).Msg("Install failed: could not populate precache")
		}
	}
	if err := ocache.PurgePartitionsExcept(ocache.PartitionNames()); err != nil {
		log.Fatal().Err(err).Msg("Could not remove stale partitions")
	}

	go ocache.StartMaintenance(context.Background(), config.MaintenanceInterval)

	client := &http.Client{Transport: ocache}
	gw := gateway{
		origin: originURL,
		client: client,
		cache:  ocache,
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Post("/-/sync", gw.handleSync)
	r.Post("/-/cache", gw.handleCacheURLs)
	r.Post("/-/clear", gw.handleClear)
	r.Post("/-/queue", gw.handleEnqueue)
	r.HandleFunc("/*", gw.handleProxy)

	addr := fmt.Sprintf(":%d", config.Port)
	log.Info().Str("version", version).Str("origin", originURL.String()).Msgf("Ready to intercept on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func dbFilename(name string) string {
	if name == "memory" {
		return ""
	}
	return name
}

// resolveAgainst resolves a possibly relative ref against the origin.
func resolveAgainst(origin *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return origin.ResolveReference(refURL).String()
}

type gateway struct {
	origin *url.URL
	client *http.Client
	cache  *offlinecache.OfflineCache
}

// handleProxy forwards the incoming request to the origin through the
// intercepting client. Mutating requests that cannot be delivered are
// queued for redelivery and acknowledged with 202.
func (g gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	outURL := *g.origin
	outURL.Path = r.URL.Path
	outURL.RawQuery = r.URL.RawQuery

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "could not read request body", http.StatusBadRequest)
			return
		}
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, outURL.String(), strings.NewReader(string(body)))
	if err != nil {
		http.Error(w, "could not build origin request", http.StatusInternalServerError)
		return
	}
	copyHeader(out.Header, r.Header)

	res, err := g.client.Do(out)
	if err != nil {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			id, qerr := g.cache.Enqueue(out, body)
			if qerr != nil {
				log.Error().Err(qerr).Msg("Could not queue failed request")
				http.Error(w, "origin unavailable", http.StatusBadGateway)
				return
			}
			log.Debug().Str("id", id).Msg("Origin unavailable, request queued")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"queued": id})
			return
		}
		log.Error().Err(err).Str("url", outURL.String()).Msg("Could not get response")
		http.Error(w, "origin unavailable", http.StatusBadGateway)
		return
	}
	defer res.Body.Close()

	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		log.Error().Err(err).Msg("Could not write response body to client")
	}
}

func (g gateway) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := g.cache.ProcessQueue(r.Context()); err != nil {
		log.Error().Err(err).Msg("Queue processing failed")
		http.Error(w, "sync failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g gateway) handleCacheURLs(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		URLs []string `json:"urls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	urls := make([]string, 0, len(payload.URLs))
	for _, u := range payload.URLs {
		urls = append(urls, resolveAgainst(g.origin, u))
	}
	g.cache.CacheURLs(r.Context(), urls)
	w.WriteHeader(http.StatusNoContent)
}

func (g gateway) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := g.cache.ClearCache(); err != nil {
		log.Error().Err(err).Msg("Could not clear cache")
		http.Error(w, "clear failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g gateway) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Method string            `json:"method"`
		URL    string            `json:"url"`
		Header map[string]string `json:"header"`
		Body   string            `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	req, err := http.NewRequest(payload.Method, resolveAgainst(g.origin, payload.URL), nil)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	for name, value := range payload.Header {
		req.Header.Set(name, value)
	}
	id, err := g.cache.Enqueue(req, []byte(payload.Body))
	if err != nil {
		log.Error().Err(err).Msg("Could not queue request")
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"queued": id})
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
