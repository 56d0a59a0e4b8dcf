package redirect

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// PendingRedirect is the state of a node's redirect field captured right
// before the node is published.
type PendingRedirect struct {
	Dimensions      Dimensions `json:"dimensions"`
	NodeIdentifier  string     `json:"nodeIdentifier"`
	OldRedirectURLs string     `json:"oldRedirectUrls"`
	WorkspaceName   string     `json:"workspaceName"`
}

// Key identifies the node variant the entry belongs to.
func (p PendingRedirect) Key() string {
	if dims := p.Dimensions.Key(); dims != "" {
		return p.NodeIdentifier + "@" + dims
	}
	return p.NodeIdentifier
}

// CommitReport keys results and errors by PendingRedirect.Key.
type CommitReport struct {
	Processed int               `json:"processed"`
	Skipped   int               `json:"skipped"`
	Changed   int               `json:"changed"`
	Failed    int               `json:"failed"`
	Results   map[string]Result `json:"results,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Collector buffers publish-time reconciliation requests of one publish
// transaction. It is not safe for concurrent use.
type Collector struct {
	service *Service
	pending []PendingRedirect
	index   map[string]int
}

// Collect records the live state of node's redirect field before it is
// published to targetWorkspace. Nodes without the redirect capability and
// publishes to other workspaces are ignored.
func (c *Collector) Collect(ctx context.Context, node Node, targetWorkspace string) error {
	if c == nil || c.service == nil || node == nil {
		return ErrInvalidInput
	}
	s := c.service
	if targetWorkspace != s.liveWorkspace || !node.IsOfType(s.nodeType) {
		return nil
	}
	key := PendingRedirect{NodeIdentifier: node.Identifier(), Dimensions: node.Dimensions()}.Key()
	if _, ok := c.index[key]; ok {
		return nil
	}

	old := ""
	current, err := s.lookup.ByIdentifier(ctx, node.Identifier(), targetWorkspace, node.Dimensions())
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return fmt.Errorf("look up %s in %s: %w", node.Identifier(), targetWorkspace, err)
	case current != nil:
		old = s.fieldValue(current)
	}

	c.index[key] = len(c.pending)
	c.pending = append(c.pending, PendingRedirect{
		Dimensions:      node.Dimensions().Clone(),
		NodeIdentifier:  node.Identifier(),
		OldRedirectURLs: old,
		WorkspaceName:   targetWorkspace,
	})
	s.log.WithFields(logrus.Fields{
		"node":      node.ContextPath(),
		"workspace": targetWorkspace,
	}).Debug("collected pending redirect")
	return nil
}

func (c *Collector) Pending() []PendingRedirect {
	if c == nil {
		return nil
	}
	return append([]PendingRedirect(nil), c.pending...)
}

func (c *Collector) Len() int {
	if c == nil {
		return 0
	}
	return len(c.pending)
}

// CommitAll reconciles every buffered entry against the now published node
// and empties the buffer, whatever the outcome of individual entries.
func (c *Collector) CommitAll(ctx context.Context) (CommitReport, error) {
	report := CommitReport{
		Results: map[string]Result{},
		Errors:  map[string]string{},
	}
	if c == nil || c.service == nil {
		return report, ErrInvalidInput
	}
	s := c.service
	pending := c.pending
	defer func() {
		c.pending = nil
		c.index = map[string]int{}
	}()

	var errs []error
	for _, entry := range pending {
		report.Processed++
		node, err := s.lookup.ByIdentifier(ctx, entry.NodeIdentifier, entry.WorkspaceName, entry.Dimensions)
		if errors.Is(err, ErrNotFound) || (err == nil && node == nil) {
			report.Skipped++
			continue
		}
		if err == nil {
			var result Result
			result, err = s.reconcilePublished(ctx, node, entry.OldRedirectURLs)
			if err == nil {
				report.Results[entry.Key()] = result
				if result.Changed() {
					report.Changed++
				}
				continue
			}
		}
		report.Failed++
		report.Errors[entry.Key()] = err.Error()
		s.log.WithField("node", entry.NodeIdentifier).WithError(err).Error("reconciling published redirects failed")
		errs = append(errs, fmt.Errorf("node %s: %w", entry.Key(), err))
	}
	return report, errors.Join(errs...)
}
