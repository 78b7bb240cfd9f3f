package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemObjectStore is a map-backed ObjectStore for unit tests.
// Error injection is supported for testing failure paths.
type MemObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string

	// PutErr, when non-nil, is returned by every Put.
	PutErr error
	// GetErr, when non-nil, is returned by every Get.
	GetErr error
}

// NewMemObjectStore creates an empty in-memory object store.
func NewMemObjectStore() *MemObjectStore {
	return &MemObjectStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (s *MemObjectStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	if s.PutErr != nil {
		return s.PutErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[key] = cp
	s.types[key] = contentType
	return nil
}

func (s *MemObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *MemObjectStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var infos []ObjectInfo
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *MemObjectStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	delete(s.types, key)
	return nil
}

func (s *MemObjectStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
			delete(s.types, key)
		}
	}
	return nil
}

// Keys returns all stored keys sorted, for test assertions.
func (s *MemObjectStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ContentType returns the content type recorded for key, for test assertions.
func (s *MemObjectStore) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[key]
}
