package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
)

// redirectSet is the in-process redirect table shared by the memory and file
// stores. Entries are keyed by their (source path, host) identity.
type redirectSet map[string]redirect.Redirect

func identityKey(sourcePath, host string) string {
	return sourcePath + "\x00" + strings.ToLower(host)
}

// newRedirects expands an Add call into one redirect per host, or a single
// unscoped redirect when hosts is empty.
func newRedirects(sourcePath, targetPath string, statusCode int, hosts []string) ([]redirect.Redirect, error) {
	sourcePath = strings.TrimSpace(sourcePath)
	if sourcePath == "" {
		return nil, redirect.ErrInvalidInput
	}
	if statusCode <= 0 {
		statusCode = redirect.DefaultStatusCode
	}
	if len(hosts) == 0 {
		hosts = []string{redirect.AnyHost}
	}
	now := time.Now().UTC()
	out := make([]redirect.Redirect, 0, len(hosts))
	seen := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, redirect.Redirect{
			ID:         uuid.NewString(),
			SourcePath: sourcePath,
			TargetPath: targetPath,
			StatusCode: statusCode,
			Host:       host,
			CreatedAt:  now,
		})
	}
	return out, nil
}

func sortRedirects(redirects []redirect.Redirect) {
	sort.Slice(redirects, func(i, j int) bool {
		if redirects[i].SourcePath == redirects[j].SourcePath {
			return redirects[i].Host < redirects[j].Host
		}
		return redirects[i].SourcePath < redirects[j].SourcePath
	})
}

func trimTarget(targetPath string) string {
	return strings.Trim(strings.TrimSpace(targetPath), "/")
}

func (s redirectSet) lookup(sourcePath, host string) *redirect.Redirect {
	r, ok := s[identityKey(sourcePath, host)]
	if !ok {
		return nil
	}
	return &r
}

// add upserts; an existing entry keeps its ID and creation time.
func (s redirectSet) add(redirects []redirect.Redirect) []redirect.Redirect {
	stored := make([]redirect.Redirect, 0, len(redirects))
	for _, r := range redirects {
		key := identityKey(r.SourcePath, r.Host)
		if existing, ok := s[key]; ok {
			r.ID = existing.ID
			r.CreatedAt = existing.CreatedAt
		}
		s[key] = r
		stored = append(stored, r)
	}
	return stored
}

func (s redirectSet) remove(sourcePath, host string) bool {
	key := identityKey(sourcePath, host)
	if _, ok := s[key]; !ok {
		return false
	}
	delete(s, key)
	return true
}

func (s redirectSet) findByTarget(targetPath string) []redirect.Redirect {
	want := trimTarget(targetPath)
	var out []redirect.Redirect
	for _, r := range s {
		if trimTarget(r.TargetPath) == want {
			out = append(out, r)
		}
	}
	sortRedirects(out)
	return out
}

func (s redirectSet) all() []redirect.Redirect {
	out := make([]redirect.Redirect, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	sortRedirects(out)
	return out
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries redirectSet
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: redirectSet{}}
}

func (s *MemoryStore) Lookup(_ context.Context, sourcePath, host string) (*redirect.Redirect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.lookup(sourcePath, host), nil
}

func (s *MemoryStore) Add(_ context.Context, sourcePath, targetPath string, statusCode int, hosts []string) ([]redirect.Redirect, error) {
	redirects, err := newRedirects(sourcePath, targetPath, statusCode, hosts)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.add(redirects), nil
}

func (s *MemoryStore) Remove(_ context.Context, sourcePath, host string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.remove(sourcePath, host), nil
}

func (s *MemoryStore) FindByTarget(_ context.Context, targetPath string) ([]redirect.Redirect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.findByTarget(targetPath), nil
}

// All returns every stored redirect ordered by source path and host.
func (s *MemoryStore) All(context.Context) ([]redirect.Redirect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.all(), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
