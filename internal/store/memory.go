package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type counterEntry struct {
	count      int64
	expiration time.Time
}

type recordEntry struct {
	value      []byte
	expiration time.Time // zero means no expiry
}

// Memory is an in-memory implementation of Store.
// Suitable for tests and single-instance development.
type Memory struct {
	mu       sync.RWMutex
	counters map[string]*counterEntry
	records  map[string]*recordEntry
	indexes  map[string]map[string]float64
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemory creates a new in-memory store with automatic cleanup of expired entries.
func NewMemory() *Memory {
	m := &Memory{
		counters: make(map[string]*counterEntry),
		records:  make(map[string]*recordEntry),
		indexes:  make(map[string]map[string]float64),
		stopCh:   make(chan struct{}),
	}

	go m.cleanup()
	return m
}

func (m *Memory) Increment(_ context.Context, key string, expiresAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry, exists := m.counters[key]

	if !exists || now.After(entry.expiration) {
		m.counters[key] = &counterEntry{
			count:      1,
			expiration: expiresAt,
		}
		return 1, nil
	}

	entry.count++
	entry.expiration = expiresAt
	return entry.count, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &recordEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiration = time.Now().Add(ttl)
	}
	m.records[key] = entry
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.records[key]
	if !exists || (!entry.expiration.IsZero() && time.Now().After(entry.expiration)) {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)
	return nil
}

func (m *Memory) IndexAdd(_ context.Context, index, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, exists := m.indexes[index]
	if !exists {
		idx = make(map[string]float64)
		m.indexes[index] = idx
	}
	idx[member] = score
	return nil
}

func (m *Memory) IndexRemove(_ context.Context, index, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, exists := m.indexes[index]; exists {
		delete(idx, member)
	}
	return nil
}

func (m *Memory) IndexScan(_ context.Context, index string, limit int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, exists := m.indexes[index]
	if !exists {
		return nil, nil
	}

	members := make([]string, 0, len(idx))
	for member := range idx {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := idx[members[i]], idx[members[j]]
		if si != sj {
			return si > sj
		}
		return members[i] < members[j]
	})

	if limit > 0 && int64(len(members)) > limit {
		members = members[:limit]
	}
	return members, nil
}

func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()

			m.mu.Lock()
			for key, entry := range m.counters {
				if now.After(entry.expiration) {
					delete(m.counters, key)
				}
			}
			for key, entry := range m.records {
				if !entry.expiration.IsZero() && now.After(entry.expiration) {
					delete(m.records, key)
				}
			}
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}
