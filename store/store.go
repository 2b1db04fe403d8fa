package store

import (
	"time"
)

// Store persists response snapshots in named partitions.
// Entries are keyed by request identity within a partition.
// Insertion order is tracked explicitly (see Entry.Seq) so that
// oldest-first eviction does not depend on backend enumeration order.
//
// Implementations must be thread-safe!
type Store interface {
	// Get returns the entry for the given key, if it exists.
	Get(partition, key string) (Entry, bool, error)
	// Put stores the given snapshot bytes under the given key,
	// overwriting any prior entry for the same key.
	// A failed Put must leave the prior entry intact.
	Put(partition, key string, storedAt time.Time, bytes []byte) error
	// Keys returns all keys in the partition, oldest-inserted first.
	Keys(partition string) ([]string, error)
	// Entries returns all entries in the partition, oldest-inserted first.
	Entries(partition string) ([]Entry, error)
	// Delete removes the entry for the given key, if present.
	Delete(partition, key string) error
	// Count returns the number of entries in the partition.
	Count(partition string) (int, error)
	// Partitions returns the names of all partitions holding at least one entry.
	Partitions() ([]string, error)
	// DropPartitionsExcept removes every partition whose name is not in keep.
	// Calling it twice with the same keep list is a no-op the second time.
	DropPartitionsExcept(keep []string) error
}

// Entry is one stored response snapshot.
type Entry struct {
	Partition string
	Key       string
	// Monotonic insertion order within the store.
	Seq      int64
	StoredAt time.Time
	Bytes    []byte
}
