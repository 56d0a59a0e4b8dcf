package redirect

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

type ReconcileRequest struct {
	OldPaths    []string
	NewPaths    []string
	TargetPath  string
	Hosts       []string
	NodeRemoved bool
}

type Conflict struct {
	SourcePath     string `json:"sourcePath"`
	Host           string `json:"host,omitempty"`
	ExistingTarget string `json:"existingTarget"`
}

type Result struct {
	Removed   int        `json:"removed"`
	Created   []string   `json:"created,omitempty"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// Changed reports whether the store was modified, i.e. routing caches of the node are stale.
func (r Result) Changed() bool {
	return r.Removed > 0 || len(r.Created) > 0
}

// Reconciler turns the difference between two normalized path sets into
// redirect store mutations for one target path.
type Reconciler struct {
	store      RedirectStore
	statusCode int
	log        *logrus.Logger
}

func NewReconciler(store RedirectStore, statusCode int, log *logrus.Logger) *Reconciler {
	if statusCode <= 0 {
		statusCode = DefaultStatusCode
	}
	if log == nil {
		log = logrus.New()
	}
	return &Reconciler{store: store, statusCode: statusCode, log: log}
}

func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (Result, error) {
	var result Result
	if r == nil || r.store == nil {
		return result, ErrInvalidInput
	}
	hosts := req.Hosts
	if len(hosts) == 0 {
		hosts = []string{AnyHost}
	}

	if req.NodeRemoved {
		for _, path := range req.NewPaths {
			if path == "" {
				continue
			}
			removed, err := r.removeForHosts(ctx, path, hosts)
			if err != nil {
				return result, err
			}
			result.Removed += removed
		}
		return result, nil
	}

	keep := make(map[string]struct{}, len(req.NewPaths))
	for _, path := range req.NewPaths {
		keep[path] = struct{}{}
	}
	for _, path := range req.OldPaths {
		if _, ok := keep[path]; ok || path == "" {
			continue
		}
		removed, err := r.removeForHosts(ctx, path, hosts)
		if err != nil {
			return result, err
		}
		result.Removed += removed
	}

	for _, path := range req.NewPaths {
		if path == "" {
			continue
		}
		shouldAdd := false
		var scopedHosts []string
		for _, host := range hosts {
			existing, err := r.store.Lookup(ctx, path, host)
			if err != nil {
				return result, fmt.Errorf("lookup redirect %s: %w", path, err)
			}
			if existing == nil {
				shouldAdd = true
				if host != AnyHost {
					scopedHosts = append(scopedHosts, host)
				}
				continue
			}
			if !samePath(existing.TargetPath, req.TargetPath) {
				r.log.WithFields(logrus.Fields{
					"source":         path,
					"host":           host,
					"target":         req.TargetPath,
					"existingTarget": existing.TargetPath,
				}).Warn("redirect source already points elsewhere, skipping")
				result.Conflicts = append(result.Conflicts, Conflict{
					SourcePath:     path,
					Host:           host,
					ExistingTarget: existing.TargetPath,
				})
			}
		}
		if !shouldAdd {
			continue
		}
		if _, err := r.store.Add(ctx, path, req.TargetPath, r.statusCode, scopedHosts); err != nil {
			return result, fmt.Errorf("add redirect %s: %w", path, err)
		}
		result.Created = append(result.Created, path)
	}
	return result, nil
}

func (r *Reconciler) removeForHosts(ctx context.Context, path string, hosts []string) (int, error) {
	removed := 0
	for _, host := range hosts {
		ok, err := r.store.Remove(ctx, path, host)
		if err != nil {
			return removed, fmt.Errorf("remove redirect %s: %w", path, err)
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}
