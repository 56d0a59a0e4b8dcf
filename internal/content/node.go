package content

import (
	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
)

// Node is a read-only view of one node variant as seen from a workspace.
type Node struct {
	record    NodeRecord
	workspace string
	types     map[string]struct{}
}

func (n *Node) Identifier() string {
	return n.record.Identifier
}

// ContextPath renders path@workspace;dimension=values.
func (n *Node) ContextPath() string {
	out := n.record.Path + "@" + n.workspace
	if dims := n.record.Dimensions.Key(); dims != "" {
		out += ";" + dims
	}
	return out
}

func (n *Node) Path() string                    { return n.record.Path }
func (n *Node) Workspace() string               { return n.workspace }
func (n *Node) Dimensions() redirect.Dimensions { return n.record.Dimensions.Clone() }
func (n *Node) IsRemoved() bool                 { return n.record.Removed }
func (n *Node) URIPath() string                 { return n.record.URIPath }

func (n *Node) IsOfType(nodeType string) bool {
	_, ok := n.types[nodeType]
	return ok
}

func (n *Node) Field(name string) (string, error) {
	value, ok := n.record.Properties[name]
	if !ok {
		return "", redirect.ErrFieldMissing
	}
	return value, nil
}
