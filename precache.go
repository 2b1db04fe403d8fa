package offlinecache

import (
	"context"
	"fmt"
	"net/http"

	requestkey "github.com/offline-cache/offline-cache/pkg/request-key"
	snapshot "github.com/offline-cache/offline-cache/pkg/response-snapshot"
)

// Precache populates the precache partition with the bootstrap manifest.
// Every URL must be fetched and stored successfully, otherwise the install
// fails as a whole. It is not retried automatically; the caller decides.
func (o *OfflineCache) Precache(ctx context.Context, manifest []string) error {
	for _, url := range manifest {
		if err := o.cacheURL(ctx, url, PartitionPrecache); err != nil {
			return fmt.Errorf("precache %s: %w", url, err)
		}
	}
	o.log.Info().Int("resources", len(manifest)).Msg("Precache populated")
	return nil
}

// CacheURLs fetches the given URLs into the dynamic partition.
// Failures are logged per URL and do not stop the remaining fetches.
func (o *OfflineCache) CacheURLs(ctx context.Context, urls []string) {
	for _, url := range urls {
		if err := o.cacheURL(ctx, url, PartitionDynamic); err != nil {
			o.log.Warn().Err(err).Str("url", url).Msg("Could not cache URL")
		}
	}
}

// ClearCache drops every partition.
func (o *OfflineCache) ClearCache() error {
	return o.store.DropPartitionsExcept(nil)
}

// PurgePartitionsExcept removes partitions left behind by an earlier rule
// set. It is run once at activation with the current partition names.
func (o *OfflineCache) PurgePartitionsExcept(keep []string) error {
	return o.store.DropPartitionsExcept(keep)
}

// PartitionNames returns the partition set of the current configuration,
// including the dynamic and precache partitions.
func (o *OfflineCache) PartitionNames() []string {
	seen := map[string]struct{}{
		PartitionDynamic:  {},
		PartitionPrecache: {},
	}
	names := []string{PartitionDynamic, PartitionPrecache}
	for _, rule := range o.rules {
		if _, ok := seen[rule.Partition]; ok {
			continue
		}
		seen[rule.Partition] = struct{}{}
		names = append(names, rule.Partition)
	}
	return names
}

func (o *OfflineCache) cacheURL(ctx context.Context, url, partition string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := o.transport.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if !isSuccess(res) {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	snap, err := snapshot.Capture(res, o.now())
	if err != nil {
		return err
	}
	return o.put(Rule{Partition: partition}, requestkey.ForRequest(req), snap)
}
