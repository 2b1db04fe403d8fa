package store

import (
	"sort"
	"sync"
	"time"
)

type Memory struct {
	mutex   *sync.RWMutex
	entries map[string]map[string]Entry
	seq     *int64
}

// NewMemory returns an empty in-memory store.
// It is mainly useful for tests and ephemeral setups.
func NewMemory() Memory {
	var seq int64
	return Memory{
		mutex:   &sync.RWMutex{},
		entries: make(map[string]map[string]Entry),
		seq:     &seq,
	}
}

func (m Memory) Get(partition, key string) (Entry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.entries[partition][key]
	return entry, ok, nil
}

func (m Memory) Put(partition, key string, storedAt time.Time, bytes []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.entries[partition] == nil {
		m.entries[partition] = make(map[string]Entry)
	}
	*m.seq++
	m.entries[partition][key] = Entry{
		Partition: partition,
		Key:       key,
		Seq:       *m.seq,
		StoredAt:  storedAt,
		Bytes:     bytes,
	}
	return nil
}

func (m Memory) Keys(partition string) ([]string, error) {
	entries, err := m.Entries(partition)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(entries))
	for i, entry := range entries {
		keys[i] = entry.Key
	}
	return keys, nil
}

func (m Memory) Entries(partition string) ([]Entry, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entries := make([]Entry, 0, len(m.entries[partition]))
	for _, entry := range m.entries[partition] {
		entries = append(entries, entry)
	}
	// oldest-inserted first
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

func (m Memory) Delete(partition, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.entries[partition], key)
	if len(m.entries[partition]) == 0 {
		delete(m.entries, partition)
	}
	return nil
}

func (m Memory) Count(partition string) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.entries[partition]), nil
}

func (m Memory) Partitions() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	return names, nil
}

func (m Memory) DropPartitionsExcept(keep []string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	keepSet := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		keepSet[name] = struct{}{}
	}
	for name := range m.entries {
		if _, ok := keepSet[name]; !ok {
			delete(m.entries, name)
		}
	}
	return nil
}
