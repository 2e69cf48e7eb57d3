package store

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory. It backs store-less
// deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Seed installs a record, for tests and for content-layer bootstrap.
func (s *MemoryStore) Seed(record Record) {
	s.mu.Lock()
	s.records[record.RoomKey] = record
	s.mu.Unlock()
}

func (s *MemoryStore) LoadRecord(ctx context.Context, roomKey string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[roomKey]
	if !ok {
		return Record{}, ErrNotFound
	}
	snapshot := append([]byte(nil), record.Snapshot...)
	if len(snapshot) == 0 {
		snapshot = nil
	}
	return Record{RoomKey: record.RoomKey, Snapshot: snapshot, Body: record.Body}, nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, roomKey string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.records[roomKey]
	record.RoomKey = roomKey
	record.Snapshot = append([]byte(nil), snapshot...)
	s.records[roomKey] = record
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
