package redirect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]Redirect
	adds    int
	failOn  string
}

func newFakeStore(seed ...Redirect) *fakeStore {
	s := &fakeStore{entries: map[string]Redirect{}}
	for _, r := range seed {
		s.entries[fakeKey(r.SourcePath, r.Host)] = r
	}
	return s
}

func fakeKey(source, host string) string {
	return source + "|" + host
}

func (s *fakeStore) Lookup(_ context.Context, sourcePath, host string) (*Redirect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == sourcePath {
		return nil, errors.New("storage unavailable")
	}
	r, ok := s.entries[fakeKey(sourcePath, host)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *fakeStore) Add(_ context.Context, sourcePath, targetPath string, statusCode int, hosts []string) ([]Redirect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adds++
	if len(hosts) == 0 {
		hosts = []string{AnyHost}
	}
	out := make([]Redirect, 0, len(hosts))
	for _, host := range hosts {
		r := Redirect{SourcePath: sourcePath, TargetPath: targetPath, StatusCode: statusCode, Host: host}
		s.entries[fakeKey(sourcePath, host)] = r
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) Remove(_ context.Context, sourcePath, host string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fakeKey(sourcePath, host)
	if _, ok := s.entries[key]; !ok {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *fakeStore) FindByTarget(_ context.Context, targetPath string) ([]Redirect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Redirect
	for _, r := range s.entries {
		if samePath(r.TargetPath, targetPath) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourcePath == out[j].SourcePath {
			return out[i].Host < out[j].Host
		}
		return out[i].SourcePath < out[j].SourcePath
	})
	return out, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *fakeStore) get(source, host string) (Redirect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[fakeKey(source, host)]
	return r, ok
}

type fakeNode struct {
	id         string
	path       string
	workspace  string
	dimensions Dimensions
	types      []string
	fields     map[string]string
	removed    bool
	uriPath    string
}

func (n *fakeNode) Identifier() string     { return n.id }
func (n *fakeNode) ContextPath() string    { return n.path + "@" + n.workspace }
func (n *fakeNode) Workspace() string      { return n.workspace }
func (n *fakeNode) Dimensions() Dimensions { return n.dimensions }
func (n *fakeNode) IsRemoved() bool        { return n.removed }

func (n *fakeNode) IsOfType(nodeType string) bool {
	for _, t := range n.types {
		if t == nodeType {
			return true
		}
	}
	return false
}

func (n *fakeNode) Field(name string) (string, error) {
	v, ok := n.fields[name]
	if !ok {
		return "", ErrFieldMissing
	}
	return v, nil
}

type fakeRepo struct {
	nodes   []*fakeNode
	presets []DimensionPreset
	hosts   []string
	findErr error
}

func (r *fakeRepo) ByIdentifier(_ context.Context, identifier, workspace string, dimensions Dimensions) (Node, error) {
	for _, n := range r.nodes {
		if n.id == identifier && n.workspace == workspace && n.dimensions.Key() == dimensions.Key() {
			return n, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) FindByTypeRecursively(_ context.Context, rootPath, nodeType, workspace string, dimensions Dimensions) ([]Node, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []Node
	for _, n := range r.nodes {
		if n.workspace != workspace || !n.IsOfType(nodeType) || !strings.HasPrefix(n.path, rootPath+"/") {
			continue
		}
		if n.dimensions.Key() != dimensions.Key() {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *fakeRepo) AllPresets() []DimensionPreset { return r.presets }

func (r *fakeRepo) Resolve(_ context.Context, node Node) (string, error) {
	n, ok := node.(*fakeNode)
	if !ok || n.uriPath == "" {
		return "", fmt.Errorf("%w: %s", ErrPathUnresolved, node.ContextPath())
	}
	return n.uriPath, nil
}

func (r *fakeRepo) Hostnames(context.Context, Node) ([]string, error) {
	return r.hosts, nil
}

func (r *fakeRepo) put(n *fakeNode) {
	for i, existing := range r.nodes {
		if existing.id == n.id && existing.workspace == n.workspace && existing.dimensions.Key() == n.dimensions.Key() {
			r.nodes[i] = n
			return
		}
	}
	r.nodes = append(r.nodes, n)
}

type fakeCache struct {
	invalidated []string
}

func (c *fakeCache) Invalidate(_ context.Context, tag string) error {
	c.invalidated = append(c.invalidated, tag)
	return nil
}
