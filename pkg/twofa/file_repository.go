package twofa

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
)

// FileStore implements TwoFactorStore using file-based storage.
// Each partition lives in its own JSON file under dataDir.
type FileStore struct {
	dataDir   string
	partition Partition
	records   map[string]Record // keyed by principal ID
	mutex     sync.RWMutex
}

// NewFileStore creates a new file-based store for the given partition
func NewFileStore(dataDir string, partition Partition) (*FileStore, error) {
	// Create data directory if it doesn't exist
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store := &FileStore{
		dataDir:   dataDir,
		partition: partition,
		records:   make(map[string]Record),
	}

	if err := store.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return store, nil
}

// Put inserts or replaces a record and persists it
func (s *FileStore) Put(record Record) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	prev, existed := s.records[record.PrincipalID]
	record.BackupCodes = slices.Clone(record.BackupCodes)
	s.records[record.PrincipalID] = record

	if err := s.save(); err != nil {
		// Rollback
		if existed {
			s.records[record.PrincipalID] = prev
		} else {
			delete(s.records, record.PrincipalID)
		}
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (s *FileStore) Partition() Partition {
	return s.partition
}

// FindByID retrieves a record by principal ID
func (s *FileStore) FindByID(ctx context.Context, principalID string) (Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, exists := s.records[principalID]
	if !exists {
		return Record{}, ErrRecordNotFound
	}
	record.BackupCodes = slices.Clone(record.BackupCodes)
	return record, nil
}

// Update applies a patch to one record
func (s *FileStore) Update(ctx context.Context, principalID string, patch Patch) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, exists := s.records[principalID]
	if !exists {
		return ErrRecordNotFound
	}

	updated := record
	updated.State = patch.Apply(record.State)
	s.records[principalID] = updated

	if err := s.save(); err != nil {
		s.records[principalID] = record
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// ConsumeBackupCode removes a single backup code hash
func (s *FileStore) ConsumeBackupCode(ctx context.Context, principalID, hash string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, exists := s.records[principalID]
	if !exists {
		return false, ErrRecordNotFound
	}

	idx := slices.Index(record.BackupCodes, hash)
	if idx < 0 {
		return false, nil
	}

	updated := record
	updated.BackupCodes = slices.Delete(slices.Clone(record.BackupCodes), idx, idx+1)
	s.records[principalID] = updated

	if err := s.save(); err != nil {
		s.records[principalID] = record
		return false, fmt.Errorf("failed to save: %w", err)
	}
	return true, nil
}

// UpdateMany applies a patch to every record in the partition
func (s *FileStore) UpdateMany(ctx context.Context, patch Patch) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	previous := make(map[string]Record, len(s.records))
	for id, record := range s.records {
		previous[id] = record
		record.State = patch.Apply(record.State)
		s.records[id] = record
	}

	if err := s.save(); err != nil {
		s.records = previous
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (s *FileStore) fileName() string {
	return fmt.Sprintf("twofa_%s.json", s.partition)
}

// load reads records from file
func (s *FileStore) load() error {
	filePath := filepath.Join(s.dataDir, s.fileName())

	// If file doesn't exist, start with empty map
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	s.records = make(map[string]Record, len(records))
	for _, record := range records {
		s.records[record.PrincipalID] = record
	}

	return nil
}

// save writes records to file atomically
func (s *FileStore) save() error {
	records := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].PrincipalID < records[j].PrincipalID
	})

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temp file first
	tempFile := filepath.Join(s.dataDir, s.fileName()+".tmp")
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Atomic rename
	finalFile := filepath.Join(s.dataDir, s.fileName())
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}
