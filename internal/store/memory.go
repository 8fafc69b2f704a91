package store

import "sync"

// MemoryStore is an in-process HostStore bounded by MaxBytes, counted as the
// sum of key and value lengths. Keys are enumerated in insertion order.
// It is safe for concurrent use by multiple goroutines.
type MemoryStore struct {
	mu       sync.RWMutex
	maxBytes int64
	used     int64
	order    []string
	items    map[string]string
}

// NewMemoryStore creates an empty store. maxBytes <= 0 means unbounded.
func NewMemoryStore(maxBytes int64) *MemoryStore {
	return &MemoryStore{maxBytes: maxBytes, items: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok, nil
}

// Set drops any previous value of key before checking the quota, so a
// replacement only needs room for its own bytes.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
	need := int64(len(key) + len(value))
	if s.maxBytes > 0 && s.used+need > s.maxBytes {
		return quotaExceeded(key, need, s.maxBytes)
	}
	s.items[key] = value
	s.order = append(s.order, key)
	s.used += need
	return nil
}

func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
	return nil
}

func (s *MemoryStore) removeLocked(key string) {
	v, ok := s.items[key]
	if !ok {
		return
	}
	delete(s.items, key)
	s.used -= int64(len(key) + len(v))
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *MemoryStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

func (s *MemoryStore) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}

// Used returns the number of bytes currently counted against the quota.
func (s *MemoryStore) Used() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}
