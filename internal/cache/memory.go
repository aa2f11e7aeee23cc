package cache

import (
	"sort"
	"sync"
)

type MemoryStorage struct {
	mu             sync.RWMutex
	buckets        map[string]map[string]Entry
	maxObjectBytes int64
	closed         bool
}

func NewMemoryStorage(maxObjectBytes int64) *MemoryStorage {
	if maxObjectBytes <= 0 {
		maxObjectBytes = DefaultMaxObjectBytes
	}
	return &MemoryStorage{
		buckets:        make(map[string]map[string]Entry),
		maxObjectBytes: maxObjectBytes,
	}
}

func (m *MemoryStorage) Bucket(name string) Store {
	return &memoryBucket{storage: m, name: name}
}

// Open creates the bucket if it is absent.
func (m *MemoryStorage) Open(name string) (Store, error) {
	if m == nil {
		return nil, ErrStorageClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	if _, ok := m.buckets[name]; !ok {
		m.buckets[name] = make(map[string]Entry)
	}
	return &memoryBucket{storage: m, name: name}, nil
}

func (m *MemoryStorage) Has(name string) bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	_, ok := m.buckets[name]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryStorage) Delete(name string) (bool, error) {
	if m == nil {
		return false, ErrStorageClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrStorageClosed
	}
	if _, ok := m.buckets[name]; !ok {
		return false, nil
	}
	delete(m.buckets, name)
	return true, nil
}

func (m *MemoryStorage) Names() ([]string, error) {
	if m == nil {
		return nil, ErrStorageClosed
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	names := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStorage) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	m.closed = true
	m.buckets = make(map[string]map[string]Entry)
	m.mu.Unlock()
	return nil
}

type memoryBucket struct {
	storage *MemoryStorage
	name    string
}

func (b *memoryBucket) Get(key string) (Entry, bool) {
	m := b.storage
	m.mu.RLock()
	entry, ok := m.buckets[b.name][key]
	m.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	return entry.Clone(), true
}

func (b *memoryBucket) Set(key string, entry Entry) error {
	m := b.storage
	prepared, err := prepare(entry, m.maxObjectBytes)
	if err != nil {
		return err
	}
	prepared = prepared.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	bucket, ok := m.buckets[b.name]
	if !ok {
		bucket = make(map[string]Entry)
		m.buckets[b.name] = bucket
	}
	bucket[key] = prepared
	return nil
}

func (b *memoryBucket) Delete(key string) bool {
	m := b.storage
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.buckets[b.name]
	if !ok {
		return false
	}
	if _, ok := bucket[key]; !ok {
		return false
	}
	delete(bucket, key)
	return true
}

func (b *memoryBucket) Keys() []string {
	m := b.storage
	m.mu.RLock()
	bucket := m.buckets[b.name]
	keys := make([]string, 0, len(bucket))
	for key := range bucket {
		keys = append(keys, key)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (b *memoryBucket) Len() int {
	m := b.storage
	m.mu.RLock()
	n := len(m.buckets[b.name])
	m.mu.RUnlock()
	return n
}
