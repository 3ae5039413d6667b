package userstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// userRecord is the on-disk shape of a user and its meta
type userRecord struct {
	User User              `json:"user"`
	Meta map[string]string `json:"meta"`
}

// FileUserStore implements UserStore using file-based storage
type FileUserStore struct {
	dataDir string
	records map[uuid.UUID]*userRecord
	mutex   sync.RWMutex
}

// NewFileUserStore creates a new file-based user store
func NewFileUserStore(dataDir string) (*FileUserStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store := &FileUserStore{
		dataDir: dataDir,
		records: make(map[uuid.UUID]*userRecord),
	}

	if err := store.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return store, nil
}

// AddUser registers a user and persists the store
func (s *FileUserStore) AddUser(user User) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	s.records[user.ID] = &userRecord{User: user, Meta: make(map[string]string)}

	return s.save()
}

// GetUser retrieves a user by ID
func (s *FileUserStore) GetUser(ctx context.Context, userID uuid.UUID) (User, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, exists := s.records[userID]
	if !exists {
		return User{}, ErrUserNotFound
	}
	return record.User, nil
}

// FindUserByLogin retrieves a user by login name
func (s *FileUserStore) FindUserByLogin(ctx context.Context, login string) (User, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, record := range s.records {
		if record.User.Login == login {
			return record.User, nil
		}
	}
	return User{}, ErrUserNotFound
}

// GetMeta retrieves a meta value for a user
func (s *FileUserStore) GetMeta(ctx context.Context, userID uuid.UUID, key string) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, exists := s.records[userID]
	if !exists {
		return "", ErrMetaNotFound
	}
	value, exists := record.Meta[key]
	if !exists {
		return "", ErrMetaNotFound
	}
	return value, nil
}

// SetMeta stores a meta value for a user
func (s *FileUserStore) SetMeta(ctx context.Context, userID uuid.UUID, key, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, exists := s.records[userID]
	if !exists {
		record = &userRecord{User: User{ID: userID}, Meta: make(map[string]string)}
		s.records[userID] = record
	}

	previous, hadPrevious := record.Meta[key]
	record.Meta[key] = value

	if err := s.save(); err != nil {
		// Rollback
		if hadPrevious {
			record.Meta[key] = previous
		} else {
			delete(record.Meta, key)
		}
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// DeleteMeta removes a meta value for a user
func (s *FileUserStore) DeleteMeta(ctx context.Context, userID uuid.UUID, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, exists := s.records[userID]
	if !exists {
		return nil
	}
	if _, exists := record.Meta[key]; !exists {
		return nil
	}

	previous := record.Meta[key]
	delete(record.Meta, key)

	if err := s.save(); err != nil {
		record.Meta[key] = previous
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

// FindUserByMeta resolves the single user owning the given meta value
func (s *FileUserStore) FindUserByMeta(ctx context.Context, key, value string) (User, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var found []*userRecord
	for _, record := range s.records {
		if record.Meta[key] == value && value != "" {
			found = append(found, record)
		}
	}

	if len(found) == 0 {
		return User{}, ErrUserNotFound
	}
	if len(found) > 1 {
		return User{}, ErrDuplicateOwner
	}
	return found[0].User, nil
}

// GetRoles returns the role slugs assigned to a user
func (s *FileUserStore) GetRoles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, exists := s.records[userID]
	if !exists {
		return nil, ErrUserNotFound
	}
	return record.User.Roles, nil
}

// load reads user data from file
func (s *FileUserStore) load() error {
	filePath := filepath.Join(s.dataDir, "users.json")

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

	var records []*userRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	s.records = make(map[uuid.UUID]*userRecord)
	for _, record := range records {
		if record.Meta == nil {
			record.Meta = make(map[string]string)
		}
		s.records[record.User.ID] = record
	}

	return nil
}

// save writes user data to file atomically
func (s *FileUserStore) save() error {
	records := make([]*userRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(s.dataDir, "users.json.tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalFile := filepath.Join(s.dataDir, "users.json")
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}
