package vfs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opuadm/HappyPhoneBot/internal/logger"
	"github.com/opuadm/HappyPhoneBot/internal/repository"
)

// Defaults describes the OS identity a brand-new filesystem is seeded with.
type Defaults struct {
	OSVersion string
	OSBranch  string
}

// Store caches one Filesystem per user on top of the repository. The cached
// copy is authoritative until the next Save.
type Store struct {
	mu       sync.Mutex
	repo     *repository.BoltRepository
	cache    map[string]*Filesystem
	defaults Defaults
}

// NewStore creates a filesystem store backed by repo.
func NewStore(repo *repository.BoltRepository, defaults Defaults) *Store {
	return &Store{
		repo:     repo,
		cache:    make(map[string]*Filesystem),
		defaults: defaults,
	}
}

// Filesystem returns the user's filesystem, loading it from the repository
// or creating the default tree on first access.
func (s *Store) Filesystem(userID string) (*Filesystem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fs, ok := s.cache[userID]; ok {
		return fs, nil
	}

	var fs Filesystem
	err := s.repo.Load(repository.FilesystemsTable, userID, &fs)
	switch {
	case err == nil:
		s.cache[userID] = &fs
		return &fs, nil
	case errors.Is(err, repository.ErrNotFound):
		logger.Debugf("Creating default filesystem for user %s", userID)
		created := NewFilesystem(s.defaults.OSVersion, s.defaults.OSBranch)
		s.cache[userID] = created

		if err := s.repo.Save(repository.FilesystemsTable, userID, created); err != nil {
			return nil, fmt.Errorf("failed to save new filesystem: %w", err)
		}
		return created, nil
	default:
		return nil, fmt.Errorf("failed to load filesystem: %w", err)
	}
}

// Save persists the user's cached filesystem.
func (s *Store) Save(userID string) error {
	s.mu.Lock()
	fs, ok := s.cache[userID]
	s.mu.Unlock()

	if !ok {
		return nil
	}

	if err := s.repo.Save(repository.FilesystemsTable, userID, fs); err != nil {
		logger.Errorf("Failed to save filesystem for user %s: %v", userID, err)
		return fmt.Errorf("failed to save filesystem: %w", err)
	}

	return nil
}
