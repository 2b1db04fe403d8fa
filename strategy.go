package offlinecache

import (
	"context"
	"net/http"

	snapshot "github.com/offline-cache/offline-cache/pkg/response-snapshot"

	"github.com/rs/zerolog"
)

// cacheFirst serves from the cache when possible. A stale hit still
// returns the stored entry immediately and triggers one unawaited
// background refresh. A miss falls back to a synchronous fetch; if the
// network also fails, a synthesized unavailable response is returned
// instead of the error.
func (o *OfflineCache) cacheFirst(req *http.Request, rule Rule, key string, logger zerolog.Logger) (*http.Response, error) {
	if snap, ok := o.cached(rule, key, logger); ok {
		o.metrics.RecordHit(rule.Partition)
		if rule.MaxAge > 0 && snap.Age(o.now()) > rule.MaxAge {
			logger.Debug().Msg("Serving stale entry, refreshing in background")
			o.refreshInBackground(req, rule, key)
		}
		return snap.Response(req), nil
	}
	o.metrics.RecordMiss(rule.Partition)
	res, err := o.fetchAndStore(req, rule, key, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Network failed with empty cache, synthesizing response")
		return o.unavailable(req), nil
	}
	return res, nil
}

// networkFirst prefers a fresh response and falls back to the cache.
// Navigations with no cached entry get the precached offline page; if
// none is registered the transport error is re-raised. Non-navigation
// misses get a synthesized unavailable response.
func (o *OfflineCache) networkFirst(req *http.Request, rule Rule, key string, logger zerolog.Logger) (*http.Response, error) {
	res, err := o.fetchAndStore(req, rule, key, logger)
	if err == nil {
		return res, nil
	}
	if snap, ok := o.cached(rule, key, logger); ok {
		logger.Debug().Err(err).Msg("Network failed, serving cached entry")
		o.metrics.RecordHit(rule.Partition)
		return snap.Response(req), nil
	}
	o.metrics.RecordMiss(rule.Partition)
	if isNavigation(req) {
		if snap, ok := o.offlineFallback(logger); ok {
			logger.Debug().Err(err).Msg("Network failed, serving offline page")
			return snap.Response(req), nil
		}
		return nil, err
	}
	logger.Warn().Err(err).Msg("Network failed with empty cache, synthesizing response")
	return o.unavailable(req), nil
}

// staleWhileRevalidate returns the cached entry immediately, fresh or not,
// while a background refresh updates the partition. A miss degenerates to
// a synchronous fetch.
func (o *OfflineCache) staleWhileRevalidate(req *http.Request, rule Rule, key string, logger zerolog.Logger) (*http.Response, error) {
	if snap, ok := o.cached(rule, key, logger); ok {
		o.metrics.RecordHit(rule.Partition)
		o.refreshInBackground(req, rule, key)
		return snap.Response(req), nil
	}
	o.metrics.RecordMiss(rule.Partition)
	res, err := o.fetchAndStore(req, rule, key, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Network failed with empty cache, synthesizing response")
		return o.unavailable(req), nil
	}
	return res, nil
}

// networkOnly never touches the cache; transport errors propagate.
func (o *OfflineCache) networkOnly(req *http.Request) (*http.Response, error) {
	return o.transport.Do(req)
}

// cacheOnly never touches the network.
func (o *OfflineCache) cacheOnly(req *http.Request, rule Rule, key string, logger zerolog.Logger) (*http.Response, error) {
	if snap, ok := o.cached(rule, key, logger); ok {
		o.metrics.RecordHit(rule.Partition)
		return snap.Response(req), nil
	}
	o.metrics.RecordMiss(rule.Partition)
	return nil, ErrNoCachedEntry
}

// cached reads and decodes the stored snapshot for the key, if any.
// Read and decode failures are logged and treated as a miss.
func (o *OfflineCache) cached(rule Rule, key string, logger zerolog.Logger) (snapshot.Snapshot, bool) {
	entry, ok, err := o.store.Get(rule.Partition, key)
	if err != nil {
		logger.Error().Err(err).Msg("Could not read from cache")
		return snapshot.Snapshot{}, false
	}
	if !ok {
		return snapshot.Snapshot{}, false
	}
	snap, err := snapshot.FromBytes(entry.Bytes)
	if err != nil {
		logger.Error().Err(err).Msg("Could not decode stored entry")
		return snapshot.Snapshot{}, false
	}
	return snap, true
}

// fetchAndStore sends the request through the resilient transport and, on
// a successful (2xx) response, stores a snapshot of it. Store failures are
// logged and never affect the returned response; the prior entry stays in
// place.
func (o *OfflineCache) fetchAndStore(req *http.Request, rule Rule, key string, logger zerolog.Logger) (*http.Response, error) {
	res, err := o.transport.Do(req)
	if err != nil {
		return nil, err
	}
	if !isSuccess(res) {
		return res, nil
	}
	snap, err := snapshot.Capture(res, o.now())
	if err != nil {
		logger.Error().Err(err).Msg("Could not capture response")
		return res, nil
	}
	if err := o.put(rule, key, snap); err != nil {
		logger.Error().Err(err).Msg("Could not write to cache")
	}
	return res, nil
}

func (o *OfflineCache) put(rule Rule, key string, snap snapshot.Snapshot) error {
	bytes, err := snap.ToBytes()
	if err != nil {
		return err
	}
	return o.store.Put(rule.Partition, key, snap.StoredAt, bytes)
}

// refreshInBackground starts a detached refresh of the given key.
// The response path never waits for it; its outcome is observed only for
// logging and cache population. Concurrent refreshes of the same key are
// collapsed into one.
func (o *OfflineCache) refreshInBackground(req *http.Request, rule Rule, key string) {
	clone := req.Clone(context.Background())
	go func() {
		_, err, _ := o.refreshes.Do(key, func() (interface{}, error) {
			res, err := o.transport.Do(clone)
			if err != nil {
				return nil, err
			}
			defer res.Body.Close()
			if !isSuccess(res) {
				// do not overwrite a stored entry with an error response
				return nil, nil
			}
			snap, err := snapshot.Capture(res, o.now())
			if err != nil {
				return nil, err
			}
			return nil, o.put(rule, key, snap)
		})
		if err != nil {
			o.metrics.RecordRefresh("failure")
			o.log.Warn().Err(err).
				Str("key", key).
				Str("partition", rule.Partition).
				Msg("Background refresh failed")
			return
		}
		o.metrics.RecordRefresh("success")
	}()
}

// offlineFallback returns the precached offline page, if one is registered
// and present in the precache partition.
func (o *OfflineCache) offlineFallback(logger zerolog.Logger) (snapshot.Snapshot, bool) {
	if o.offlineKey == "" {
		return snapshot.Snapshot{}, false
	}
	return o.cached(Rule{Partition: PartitionPrecache}, o.offlineKey, logger)
}
