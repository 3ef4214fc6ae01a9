package twofa

import (
	"context"
	"slices"
	"sync"
)

// InMemoryStore implements TwoFactorStore using in-memory storage
type InMemoryStore struct {
	mu        sync.RWMutex
	partition Partition
	records   map[string]Record
}

// NewInMemoryStore creates a new in-memory store for the given partition
func NewInMemoryStore(partition Partition) *InMemoryStore {
	return &InMemoryStore{
		partition: partition,
		records:   make(map[string]Record),
	}
}

// Put inserts or replaces a record. Used for seeding accounts.
func (s *InMemoryStore) Put(record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.BackupCodes = slices.Clone(record.BackupCodes)
	s.records[record.PrincipalID] = record
}

func (s *InMemoryStore) Partition() Partition {
	return s.partition
}

// FindByID returns a copy of the principal's record
func (s *InMemoryStore) FindByID(ctx context.Context, principalID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[principalID]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	record.BackupCodes = slices.Clone(record.BackupCodes)
	return record, nil
}

func (s *InMemoryStore) Update(ctx context.Context, principalID string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[principalID]
	if !ok {
		return ErrRecordNotFound
	}
	record.State = patch.Apply(record.State)
	s.records[principalID] = record
	return nil
}

func (s *InMemoryStore) ConsumeBackupCode(ctx context.Context, principalID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[principalID]
	if !ok {
		return false, ErrRecordNotFound
	}
	idx := slices.Index(record.BackupCodes, hash)
	if idx < 0 {
		return false, nil
	}
	record.BackupCodes = slices.Delete(slices.Clone(record.BackupCodes), idx, idx+1)
	s.records[principalID] = record
	return true, nil
}

func (s *InMemoryStore) UpdateMany(ctx context.Context, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, record := range s.records {
		record.State = patch.Apply(record.State)
		s.records[id] = record
	}
	return nil
}
