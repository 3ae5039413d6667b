package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileRepository implements Repository using file-based storage
type FileRepository struct {
	dataDir string
	entries []Entry
	mutex   sync.RWMutex
}

// NewFileRepository creates a new file-based audit repository
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileRepository{dataDir: dataDir}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

// Insert stores an entry
func (r *FileRepository) Insert(ctx context.Context, entry Entry) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.entries = append(r.entries, entry)

	if err := r.save(); err != nil {
		r.entries = r.entries[:len(r.entries)-1]
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// List returns the newest entries, up to limit, newest first
func (r *FileRepository) List(ctx context.Context, limit int) ([]Entry, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sorted := make([]Entry, len(r.entries))
	copy(sorted, r.entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

// Count returns the number of stored entries
func (r *FileRepository) Count(ctx context.Context) (int64, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return int64(len(r.entries)), nil
}

// Trim deletes all but the newest keep entries
func (r *FileRepository) Trim(ctx context.Context, keep int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if len(r.entries) <= keep {
		return nil
	}

	sort.Slice(r.entries, func(i, j int) bool {
		return r.entries[i].Timestamp.After(r.entries[j].Timestamp)
	})

	previous := r.entries
	r.entries = append([]Entry(nil), r.entries[:keep]...)

	if err := r.save(); err != nil {
		r.entries = previous
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// load reads audit data from file
func (r *FileRepository) load() error {
	filePath := filepath.Join(r.dataDir, "auditlog.json")

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

	if err := json.Unmarshal(data, &r.entries); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}

// save writes audit data to file atomically
func (r *FileRepository) save() error {
	data, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, "auditlog.json.tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalFile := filepath.Join(r.dataDir, "auditlog.json")
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
