package redirect

import (
	"context"
	"sort"
	"strings"
	"time"
)

// AnyHost is the host value of a redirect that applies regardless of the request host.
const AnyHost = ""

const (
	DefaultStatusCode    = 301
	DefaultRedirectField = "redirectUrls"
	DefaultNodeType      = "ElementareTeilchen.Neos.ExternalRedirect:RedirectUrlsMixin"
	DefaultSiteRoot      = "/sites"
	DefaultLiveWorkspace = "live"
)

type Redirect struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"sourcePath"`
	TargetPath string    `json:"targetPath"`
	StatusCode int       `json:"statusCode"`
	Host       string    `json:"host,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Dimensions maps a content dimension name to its values in fallback order.
type Dimensions map[string][]string

// Key renders the dimensions in a stable form usable as a map key.
func (d Dimensions) Key() string {
	if len(d) == 0 {
		return ""
	}
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.Join(d[name], ","))
	}
	return b.String()
}

func (d Dimensions) Clone() Dimensions {
	if d == nil {
		return nil
	}
	out := make(Dimensions, len(d))
	for name, values := range d {
		out[name] = append([]string(nil), values...)
	}
	return out
}

type DimensionPreset struct {
	Dimension  string   `json:"dimension" yaml:"-"`
	Name       string   `json:"name" yaml:"name"`
	Values     []string `json:"values" yaml:"values"`
	URISegment string   `json:"uriSegment,omitempty" yaml:"uriSegment,omitempty"`
}

func (p DimensionPreset) Dimensions() Dimensions {
	return Dimensions{p.Dimension: append([]string(nil), p.Values...)}
}

type Node interface {
	Identifier() string
	ContextPath() string
	Workspace() string
	Dimensions() Dimensions
	IsOfType(nodeType string) bool
	// Field returns ErrFieldMissing when the node does not carry the property.
	Field(name string) (string, error)
	IsRemoved() bool
}

type NodeLookup interface {
	// ByIdentifier returns ErrNotFound when no variant matches.
	ByIdentifier(ctx context.Context, identifier, workspace string, dimensions Dimensions) (Node, error)
	FindByTypeRecursively(ctx context.Context, rootPath, nodeType, workspace string, dimensions Dimensions) ([]Node, error)
}

type DimensionPresetSource interface {
	AllPresets() []DimensionPreset
}

type TargetPathBuilder interface {
	// Resolve returns ErrPathUnresolved when no route exists for the node.
	Resolve(ctx context.Context, node Node) (string, error)
}

type HostResolver interface {
	Hostnames(ctx context.Context, node Node) ([]string, error)
}

type RedirectStore interface {
	// Lookup returns nil without error when no redirect exists for the exact (sourcePath, host) pair.
	Lookup(ctx context.Context, sourcePath, host string) (*Redirect, error)
	// Add creates one unscoped redirect when hosts is empty, one per host otherwise.
	Add(ctx context.Context, sourcePath, targetPath string, statusCode int, hosts []string) ([]Redirect, error)
	Remove(ctx context.Context, sourcePath, host string) (bool, error)
	FindByTarget(ctx context.Context, targetPath string) ([]Redirect, error)
	Close() error
}

type RoutingCache interface {
	Invalidate(ctx context.Context, tag string) error
}

// RoutingCacheTag is the tag under which resolved routes of a node are cached.
func RoutingCacheTag(nodeIdentifier string) string {
	return "node_" + nodeIdentifier
}
