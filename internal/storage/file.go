package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
)

type fileStoreState struct {
	Redirects []redirect.Redirect `json:"redirects"`
}

// FileStore keeps the redirect table in a JSON document that is rewritten
// atomically after every mutation.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	entries redirectSet
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, redirect.ErrInvalidInput
	}
	s := &FileStore{path: path, entries: redirectSet{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Lookup(_ context.Context, sourcePath, host string) (*redirect.Redirect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.lookup(sourcePath, host), nil
}

func (s *FileStore) Add(_ context.Context, sourcePath, targetPath string, statusCode int, hosts []string) ([]redirect.Redirect, error) {
	redirects, err := newRedirects(sourcePath, targetPath, statusCode, hosts)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.entries.add(redirects)
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *FileStore) Remove(_ context.Context, sourcePath, host string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.entries.remove(sourcePath, host) {
		return false, nil
	}
	if err := s.saveLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) FindByTarget(_ context.Context, targetPath string) ([]redirect.Redirect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.findByTarget(targetPath), nil
}

func (s *FileStore) All(context.Context) ([]redirect.Redirect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.all(), nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileStoreState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	for _, r := range snapshot.Redirects {
		s.entries[identityKey(r.SourcePath, r.Host)] = r
	}
	return nil
}

func (s *FileStore) saveLocked() error {
	snapshot := fileStoreState{Redirects: s.entries.all()}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
