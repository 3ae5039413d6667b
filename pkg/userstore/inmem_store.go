package userstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemUserStore implements UserStore with in-memory storage.
// Intended for tests and demos.
type InMemUserStore struct {
	users map[uuid.UUID]User
	meta  map[uuid.UUID]map[string]string
	mutex sync.RWMutex
}

// NewInMemUserStore creates a new in-memory user store
func NewInMemUserStore() *InMemUserStore {
	return &InMemUserStore{
		users: make(map[uuid.UUID]User),
		meta:  make(map[uuid.UUID]map[string]string),
	}
}

// AddUser registers a user in the store
func (s *InMemUserStore) AddUser(user User) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	s.users[user.ID] = user
}

// GetUser retrieves a user by ID
func (s *InMemUserStore) GetUser(ctx context.Context, userID uuid.UUID) (User, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	user, exists := s.users[userID]
	if !exists {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// FindUserByLogin retrieves a user by login name
func (s *InMemUserStore) FindUserByLogin(ctx context.Context, login string) (User, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, user := range s.users {
		if user.Login == login {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

// GetMeta retrieves a meta value for a user
func (s *InMemUserStore) GetMeta(ctx context.Context, userID uuid.UUID, key string) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	userMeta, exists := s.meta[userID]
	if !exists {
		return "", ErrMetaNotFound
	}
	value, exists := userMeta[key]
	if !exists {
		return "", ErrMetaNotFound
	}
	return value, nil
}

// SetMeta stores a meta value for a user
func (s *InMemUserStore) SetMeta(ctx context.Context, userID uuid.UUID, key, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.meta[userID]; !exists {
		s.meta[userID] = make(map[string]string)
	}
	s.meta[userID][key] = value
	return nil
}

// DeleteMeta removes a meta value for a user
func (s *InMemUserStore) DeleteMeta(ctx context.Context, userID uuid.UUID, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if userMeta, exists := s.meta[userID]; exists {
		delete(userMeta, key)
	}
	return nil
}

// FindUserByMeta resolves the single user owning the given meta value
func (s *InMemUserStore) FindUserByMeta(ctx context.Context, key, value string) (User, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var found []uuid.UUID
	for userID, userMeta := range s.meta {
		if userMeta[key] == value && value != "" {
			found = append(found, userID)
		}
	}

	if len(found) == 0 {
		return User{}, ErrUserNotFound
	}
	if len(found) > 1 {
		return User{}, ErrDuplicateOwner
	}

	user, exists := s.users[found[0]]
	if !exists {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

// GetRoles returns the role slugs assigned to a user
func (s *InMemUserStore) GetRoles(ctx context.Context, userID uuid.UUID) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	user, exists := s.users[userID]
	if !exists {
		return nil, ErrUserNotFound
	}
	return user.Roles, nil
}
