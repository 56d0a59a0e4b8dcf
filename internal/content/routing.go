package content

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
)

// Resolve builds the relative URI of a node: the uriSegment of each of its
// dimension presets followed by the node's own uriPath.
func (r *Repository) Resolve(_ context.Context, node redirect.Node) (string, error) {
	n, ok := node.(*Node)
	if !ok || n == nil {
		return "", fmt.Errorf("%w: unsupported node %T", redirect.ErrPathUnresolved, node)
	}
	uriPath := strings.Trim(n.record.URIPath, "/")
	if uriPath == "" {
		return "", fmt.Errorf("%w: node %s has no uriPath", redirect.ErrPathUnresolved, n.ContextPath())
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(n.record.Dimensions))
	for name := range n.record.Dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	segments := make([]string, 0, len(names)+1)
	for _, name := range names {
		values := n.record.Dimensions[name]
		if len(values) == 0 {
			continue
		}
		for _, preset := range r.doc.Dimensions[name] {
			if len(preset.Values) > 0 && preset.Values[0] == values[0] {
				if segment := strings.Trim(preset.URISegment, "/"); segment != "" {
					segments = append(segments, segment)
				}
				break
			}
		}
	}
	segments = append(segments, uriPath)
	return strings.Join(segments, "/"), nil
}

// Hostnames returns the domains of the site whose root contains node.
func (r *Repository) Hostnames(_ context.Context, node redirect.Node) ([]string, error) {
	n, ok := node.(*Node)
	if !ok || n == nil {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, site := range r.doc.Sites {
		root := strings.TrimRight(site.Root, "/")
		if root == "" {
			continue
		}
		if n.record.Path == root || strings.HasPrefix(n.record.Path, root+"/") {
			return append([]string(nil), site.Domains...), nil
		}
	}
	return nil, nil
}

// RouteCache is the part of a routing cache the path builder needs.
type RouteCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, tags []string) error
}

// CachingPathBuilder memoizes resolved node URIs in a routing cache, tagged
// per node so a reconciliation can drop them.
type CachingPathBuilder struct {
	next  redirect.TargetPathBuilder
	cache RouteCache
	log   *logrus.Logger
}

func NewCachingPathBuilder(next redirect.TargetPathBuilder, cache RouteCache, log *logrus.Logger) *CachingPathBuilder {
	if log == nil {
		log = logrus.New()
	}
	return &CachingPathBuilder{next: next, cache: cache, log: log}
}

func routeCacheKey(node redirect.Node) string {
	return "uri:" + node.Identifier() + "@" + node.Workspace() + ";" + node.Dimensions().Key()
}

func (b *CachingPathBuilder) Resolve(ctx context.Context, node redirect.Node) (string, error) {
	if b.cache == nil {
		return b.next.Resolve(ctx, node)
	}
	key := routeCacheKey(node)
	if cached, ok, err := b.cache.Get(ctx, key); err != nil {
		b.log.WithError(err).WithField("key", key).Warn("routing cache read failed")
	} else if ok {
		return cached, nil
	}
	resolved, err := b.next.Resolve(ctx, node)
	if err != nil {
		return "", err
	}
	if err := b.cache.Set(ctx, key, resolved, []string{redirect.RoutingCacheTag(node.Identifier())}); err != nil {
		b.log.WithError(err).WithField("key", key).Warn("routing cache write failed")
	}
	return resolved, nil
}
