package offlinecache

import (
	"context"
	"time"
)

// RunMaintenance runs the age pass followed by the capacity pass over
// every configured partition. Both passes are best-effort: a failing
// entry is logged and skipped, never aborting the rest.
func (o *OfflineCache) RunMaintenance() {
	for _, rule := range o.rules {
		o.maintainPartition(rule.Partition, rule.MaxAge, rule.MaxEntries)
	}
	def := DefaultRule()
	o.maintainPartition(def.Partition, def.MaxAge, def.MaxEntries)
}

// StartMaintenance runs RunMaintenance on the given interval until the
// context is cancelled.
func (o *OfflineCache) StartMaintenance(ctx context.Context, interval time.Duration) {
	o.log.Info().Msgf("Starting maintenance loop with interval %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.log.Debug().Msg("Stopping maintenance loop")
			return
		case <-ticker.C:
			o.RunMaintenance()
		}
	}
}

func (o *OfflineCache) maintainPartition(partition string, maxAge time.Duration, maxEntries int) {
	o.evictExpired(partition, maxAge)
	o.trimToCapacity(partition, maxEntries)
}

// evictExpired deletes every entry strictly older than maxAge.
func (o *OfflineCache) evictExpired(partition string, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	entries, err := o.store.Entries(partition)
	if err != nil {
		o.log.Error().Err(err).Str("partition", partition).Msg("Could not list entries for age pass")
		return
	}
	now := o.now()
	for _, entry := range entries {
		if now.Sub(entry.StoredAt) <= maxAge {
			continue
		}
		if err := o.store.Delete(partition, entry.Key); err != nil {
			o.log.Error().Err(err).
				Str("partition", partition).
				Str("key", entry.Key).
				Msg("Could not evict expired entry")
			continue
		}
		o.metrics.RecordEviction(partition, "age")
		o.log.Trace().
			Str("partition", partition).
			Str("key", entry.Key).
			Msg("Evicted expired entry")
	}
}

// trimToCapacity deletes the oldest-inserted entries until at most
// maxEntries remain. Entries are never re-ordered on read, so this is
// FIFO, not LRU.
func (o *OfflineCache) trimToCapacity(partition string, maxEntries int) {
	if maxEntries <= 0 {
		return
	}
	keys, err := o.store.Keys(partition)
	if err != nil {
		o.log.Error().Err(err).Str("partition", partition).Msg("Could not list keys for capacity pass")
		return
	}
	if len(keys) <= maxEntries {
		return
	}
	for _, key := range keys[:len(keys)-maxEntries] {
		if err := o.store.Delete(partition, key); err != nil {
			o.log.Error().Err(err).
				Str("partition", partition).
				Str("key", key).
				Msg("Could not evict surplus entry")
			continue
		}
		o.metrics.RecordEviction(partition, "capacity")
	}
}
