package queue

import "sync"

type Memory struct {
	mutex  *sync.Mutex
	queued *[]Request
}

// NewMemory returns an empty in-memory queue store.
func NewMemory() Memory {
	queued := make([]Request, 0)
	return Memory{
		mutex:  &sync.Mutex{},
		queued: &queued,
	}
}

func (m Memory) Append(r Request) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	*m.queued = append(*m.queued, r)
	return nil
}

func (m Memory) All() ([]Request, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	queued := make([]Request, len(*m.queued))
	copy(queued, *m.queued)
	return queued, nil
}

func (m Memory) Delete(id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	queued := (*m.queued)[:0]
	for _, r := range *m.queued {
		if r.ID != id {
			queued = append(queued, r)
		}
	}
	*m.queued = queued
	return nil
}

func (m Memory) Len() (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(*m.queued), nil
}
