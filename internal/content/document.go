package content

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
)

// Document is the on-disk form of the content repository.
type Document struct {
	NodeTypes  map[string]NodeTypeDefinition         `yaml:"nodeTypes,omitempty"`
	Dimensions map[string][]redirect.DimensionPreset `yaml:"dimensions,omitempty"`
	Sites      []Site                                `yaml:"sites,omitempty"`
	Workspaces map[string]*Workspace                 `yaml:"workspaces"`
}

type NodeTypeDefinition struct {
	SuperTypes []string `yaml:"superTypes,omitempty"`
}

type Site struct {
	Name    string   `yaml:"name"`
	Root    string   `yaml:"root"`
	Domains []string `yaml:"domains,omitempty"`
}

type Workspace struct {
	Base  string       `yaml:"base,omitempty"`
	Nodes []NodeRecord `yaml:"nodes,omitempty"`
}

// NodeRecord is one variant of a node in one workspace.
type NodeRecord struct {
	Identifier string              `yaml:"identifier"`
	Path       string              `yaml:"path"`
	Type       string              `yaml:"type"`
	Dimensions redirect.Dimensions `yaml:"dimensions,omitempty"`
	URIPath    string              `yaml:"uriPath,omitempty"`
	Removed    bool                `yaml:"removed,omitempty"`
	Properties map[string]string   `yaml:"properties,omitempty"`
}

func (r NodeRecord) variantKey() string {
	return r.Identifier + "@" + r.Dimensions.Key()
}

func (r NodeRecord) clone() NodeRecord {
	out := r
	out.Dimensions = r.Dimensions.Clone()
	if r.Properties != nil {
		out.Properties = make(map[string]string, len(r.Properties))
		for k, v := range r.Properties {
			out.Properties[k] = v
		}
	}
	return out
}

// ParseDocument decodes and validates a content document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode content document: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

func (d *Document) validate() error {
	if d.Workspaces == nil {
		d.Workspaces = map[string]*Workspace{}
	}
	for name, ws := range d.Workspaces {
		if ws == nil {
			d.Workspaces[name] = &Workspace{}
			continue
		}
		if ws.Base != "" {
			if _, ok := d.Workspaces[ws.Base]; !ok {
				return fmt.Errorf("%w: workspace %s has unknown base %s", redirect.ErrInvalidInput, name, ws.Base)
			}
		}
		seen := make(map[string]struct{}, len(ws.Nodes))
		for i, node := range ws.Nodes {
			if strings.TrimSpace(node.Identifier) == "" || !strings.HasPrefix(node.Path, "/") {
				return fmt.Errorf("%w: workspace %s node %d needs an identifier and an absolute path", redirect.ErrInvalidInput, name, i)
			}
			key := node.variantKey()
			if _, dup := seen[key]; dup {
				return fmt.Errorf("%w: workspace %s has node %s twice", redirect.ErrInvalidInput, name, key)
			}
			seen[key] = struct{}{}
		}
	}
	// base chains must terminate
	for name := range d.Workspaces {
		if _, err := d.workspaceChain(name); err != nil {
			return err
		}
	}
	return nil
}

// workspaceChain lists name followed by its base workspaces.
func (d *Document) workspaceChain(name string) ([]string, error) {
	var chain []string
	seen := map[string]struct{}{}
	for current := name; current != ""; {
		if _, loop := seen[current]; loop {
			return nil, fmt.Errorf("%w: workspace %s has a cyclic base chain", redirect.ErrInvalidInput, name)
		}
		seen[current] = struct{}{}
		ws, ok := d.Workspaces[current]
		if !ok {
			break
		}
		chain = append(chain, current)
		current = ws.Base
	}
	return chain, nil
}

// typeSet returns nodeType and all of its super types.
func (d *Document) typeSet(nodeType string) map[string]struct{} {
	out := map[string]struct{}{}
	queue := []string{nodeType}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, ok := out[current]; ok || current == "" {
			continue
		}
		out[current] = struct{}{}
		queue = append(queue, d.NodeTypes[current].SuperTypes...)
	}
	return out
}

func (d *Document) presets() []redirect.DimensionPreset {
	names := make([]string, 0, len(d.Dimensions))
	for name := range d.Dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []redirect.DimensionPreset
	for _, name := range names {
		for _, preset := range d.Dimensions[name] {
			preset.Dimension = name
			preset.Values = append([]string(nil), preset.Values...)
			out = append(out, preset)
		}
	}
	return out
}
