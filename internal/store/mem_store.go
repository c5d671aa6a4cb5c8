package store

import (
	"context"
	"sync"
)

// NewMemStore 返回纯内存实现，主要服务于测试与本地试运行。
func NewMemStore() Store {
	return &memStore{
		records: make(map[string]Record),
		blobs:   make(map[string][]byte),
	}
}

type memStore struct {
	mu      sync.RWMutex
	records map[string]Record
	blobs   map[string][]byte
}

func recordKey(class Class, id string) string {
	return string(class) + "::" + id
}

func (s *memStore) FindByID(ctx context.Context, class Class, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recordKey(class, id)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := rec
	return &copied, nil
}

func (s *memStore) FindByIDs(ctx context.Context, class Class, ids []string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Record, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if rec, ok := s.records[recordKey(class, id)]; ok {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *memStore) Upsert(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(rec.Class, rec.ID)
	if existing, ok := s.records[key]; ok && existing.SyncedAt.After(rec.SyncedAt) {
		return nil
	}
	s.records[key] = rec
	return nil
}

func (s *memStore) GetBlob(ctx context.Context, namespace, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[namespace+"::"+key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *memStore) SetBlob(ctx context.Context, namespace, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[namespace+"::"+key] = append([]byte(nil), data...)
	return nil
}
