package offlinecache

import "errors"

// ErrNoCachedEntry is returned by the cache-only strategy when no entry
// exists for the request.
var ErrNoCachedEntry = errors.New("offline-cache: no cached entry")

var errNoQueue = errors.New("offline-cache: no retry queue configured")
