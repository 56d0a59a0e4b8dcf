package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
)

// Repository serves nodes from a YAML content document. Reads see a
// consistent snapshot; Publish and Reload swap the snapshot under a lock.
type Repository struct {
	mu   sync.RWMutex
	path string
	doc  *Document
	log  *logrus.Logger
}

type Options struct {
	Logger *logrus.Logger
}

// Open loads the content document at path.
func Open(path string, opts Options) (*Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, redirect.ErrInvalidInput
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	r := &Repository{path: path, log: opts.Logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewFromDocument wraps an in-memory document. Publish on such a repository
// does not persist anything.
func NewFromDocument(doc *Document, opts Options) (*Repository, error) {
	if doc == nil {
		return nil, redirect.ErrInvalidInput
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Repository{doc: doc, log: opts.Logger}, nil
}

func (r *Repository) Path() string {
	return r.path
}

// Reload re-reads the document from disk. The previous snapshot stays in
// place when the file cannot be parsed.
func (r *Repository) Reload() error {
	if r.path == "" {
		return nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read content document %s: %w", r.path, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.doc = doc
	r.mu.Unlock()
	r.log.WithField("path", r.path).Debug("content document loaded")
	return nil
}

func (r *Repository) AllPresets() []redirect.DimensionPreset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.presets()
}

// ByIdentifier returns the variant of a node visible in workspace for the
// requested dimensions. Removed variants are returned as well so publishes
// of removals can be observed.
func (r *Repository) ByIdentifier(ctx context.Context, identifier, workspace string, dimensions redirect.Dimensions) (redirect.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.resolveLocked(identifier, workspace, dimensions)
	if !ok {
		return nil, fmt.Errorf("%w: node %s in %s", redirect.ErrNotFound, identifier, workspace)
	}
	return r.newNode(rec, workspace), nil
}

// FindByTypeRecursively lists the visible, not removed nodes below rootPath
// that are of nodeType, ordered by path.
func (r *Repository) FindByTypeRecursively(ctx context.Context, rootPath, nodeType, workspace string, dimensions redirect.Dimensions) ([]redirect.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain, err := r.doc.workspaceChain(workspace)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: workspace %s", redirect.ErrNotFound, workspace)
	}
	prefix := strings.TrimRight(rootPath, "/") + "/"

	seen := map[string]struct{}{}
	var records []NodeRecord
	for _, name := range chain {
		for _, candidate := range r.doc.Workspaces[name].Nodes {
			if _, ok := seen[candidate.Identifier]; ok || !strings.HasPrefix(candidate.Path, prefix) {
				continue
			}
			seen[candidate.Identifier] = struct{}{}
			rec, ok := r.resolveLocked(candidate.Identifier, workspace, dimensions)
			if !ok || rec.Removed {
				continue
			}
			if _, ok := r.doc.typeSet(rec.Type)[nodeType]; !ok {
				continue
			}
			records = append(records, rec)
		}
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Path < records[j].Path })

	out := make([]redirect.Node, 0, len(records))
	for _, rec := range records {
		out = append(out, r.newNode(rec, workspace))
	}
	return out, nil
}

// resolveLocked walks the workspace chain and picks the best dimension
// variant in the first workspace that has one.
func (r *Repository) resolveLocked(identifier, workspace string, dimensions redirect.Dimensions) (NodeRecord, bool) {
	chain, err := r.doc.workspaceChain(workspace)
	if err != nil {
		return NodeRecord{}, false
	}
	for _, name := range chain {
		if rec, ok := bestVariant(r.doc.Workspaces[name].Nodes, identifier, dimensions); ok {
			return rec.clone(), true
		}
	}
	return NodeRecord{}, false
}

// bestVariant applies dimension fallback: for every requested dimension the
// earliest listed value that a variant carries wins.
func bestVariant(nodes []NodeRecord, identifier string, dimensions redirect.Dimensions) (NodeRecord, bool) {
	best := -1
	var bestScore []int
	names := make([]string, 0, len(dimensions))
	for name := range dimensions {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, node := range nodes {
		if node.Identifier != identifier {
			continue
		}
		score, ok := variantScore(node.Dimensions, dimensions, names)
		if !ok {
			continue
		}
		if best < 0 || lessScore(score, bestScore) {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return NodeRecord{}, false
	}
	return nodes[best], true
}

func variantScore(have, want redirect.Dimensions, names []string) ([]int, bool) {
	if len(want) == 0 {
		// no dimensions requested: prefer the dimensionless variant
		if len(have) == 0 {
			return []int{0}, true
		}
		return []int{1}, true
	}
	score := make([]int, 0, len(names))
	for _, name := range names {
		values := have[name]
		if len(values) == 0 {
			return nil, false
		}
		idx := indexOf(want[name], values[0])
		if idx < 0 {
			return nil, false
		}
		score = append(score, idx)
	}
	return score, true
}

func lessScore(a, b []int) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func indexOf(values []string, value string) int {
	for i, v := range values {
		if v == value {
			return i
		}
	}
	return -1
}

func (r *Repository) newNode(rec NodeRecord, workspace string) *Node {
	return &Node{record: rec, workspace: workspace, types: r.doc.typeSet(rec.Type)}
}

// Publish moves the exact variant of a node from one workspace to another,
// replacing the variant there, and persists the document.
func (r *Repository) Publish(ctx context.Context, identifier string, dimensions redirect.Dimensions, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	source, ok := r.doc.Workspaces[from]
	target, ok2 := r.doc.Workspaces[to]
	if !ok || !ok2 {
		return fmt.Errorf("%w: workspace %s or %s", redirect.ErrNotFound, from, to)
	}
	key := NodeRecord{Identifier: identifier, Dimensions: dimensions}.variantKey()
	idx := -1
	for i, node := range source.Nodes {
		if node.variantKey() == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: node %s in %s", redirect.ErrNotFound, key, from)
	}
	rec := source.Nodes[idx].clone()

	replaced := false
	for i, node := range target.Nodes {
		if node.variantKey() == key {
			target.Nodes[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		target.Nodes = append(target.Nodes, rec)
	}
	source.Nodes = append(source.Nodes[:idx:idx], source.Nodes[idx+1:]...)

	if err := r.saveLocked(); err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{
		"node": key,
		"from": from,
		"to":   to,
	}).Info("node published")
	return nil
}

func (r *Repository) saveLocked() error {
	if r.path == "" {
		return nil
	}
	data, err := r.doc.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

