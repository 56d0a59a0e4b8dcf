package redirect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

type ServiceOptions struct {
	Lookup            NodeLookup
	Presets           DimensionPresetSource
	Paths             TargetPathBuilder
	Hosts             HostResolver
	Store             RedirectStore
	RoutingCache      RoutingCache
	StatusCode        int
	CreateForAllHosts bool
	RedirectField     string
	NodeType          string
	SiteRoot          string
	LiveWorkspace     string
	Logger            *logrus.Logger
}

// Service keeps redirect storage in sync with the redirect URL field of content nodes.
type Service struct {
	lookup            NodeLookup
	presets           DimensionPresetSource
	paths             TargetPathBuilder
	hosts             HostResolver
	store             RedirectStore
	cache             RoutingCache
	reconciler        *Reconciler
	createForAllHosts bool
	redirectField     string
	nodeType          string
	siteRoot          string
	liveWorkspace     string
	log               *logrus.Logger
}

type GenerateReport struct {
	Presets   int `json:"presets"`
	Nodes     int `json:"nodes"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
	Created   int `json:"created"`
	Removed   int `json:"removed"`
	Conflicts int `json:"conflicts"`
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Lookup == nil || opts.Paths == nil || opts.Store == nil {
		return nil, fmt.Errorf("%w: node lookup, target path builder and redirect store are required", ErrInvalidInput)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if strings.TrimSpace(opts.RedirectField) == "" {
		opts.RedirectField = DefaultRedirectField
	}
	if strings.TrimSpace(opts.NodeType) == "" {
		opts.NodeType = DefaultNodeType
	}
	if strings.TrimSpace(opts.SiteRoot) == "" {
		opts.SiteRoot = DefaultSiteRoot
	}
	if strings.TrimSpace(opts.LiveWorkspace) == "" {
		opts.LiveWorkspace = DefaultLiveWorkspace
	}
	return &Service{
		lookup:            opts.Lookup,
		presets:           opts.Presets,
		paths:             opts.Paths,
		hosts:             opts.Hosts,
		store:             opts.Store,
		cache:             opts.RoutingCache,
		reconciler:        NewReconciler(opts.Store, opts.StatusCode, opts.Logger),
		createForAllHosts: opts.CreateForAllHosts,
		redirectField:     opts.RedirectField,
		nodeType:          opts.NodeType,
		siteRoot:          opts.SiteRoot,
		liveWorkspace:     opts.LiveWorkspace,
		log:               opts.Logger,
	}, nil
}

func (s *Service) LiveWorkspace() string {
	return s.liveWorkspace
}

// NewCollector starts a publish transaction.
func (s *Service) NewCollector() *Collector {
	return &Collector{service: s, index: map[string]int{}}
}

// GenerateAll reconciles every redirect-capable node of the live workspace
// across all dimension presets. Per-node failures are logged and counted.
func (s *Service) GenerateAll(ctx context.Context) (GenerateReport, error) {
	var report GenerateReport
	dimensionSets := []Dimensions{nil}
	if s.presets != nil {
		if presets := s.presets.AllPresets(); len(presets) > 0 {
			dimensionSets = dimensionSets[:0]
			for _, preset := range presets {
				dimensionSets = append(dimensionSets, preset.Dimensions())
			}
		}
	}

	for _, dimensions := range dimensionSets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Presets++
		nodes, err := s.lookup.FindByTypeRecursively(ctx, s.siteRoot, s.nodeType, s.liveWorkspace, dimensions)
		if err != nil {
			return report, fmt.Errorf("find %s nodes below %s: %w", s.nodeType, s.siteRoot, err)
		}
		for _, node := range nodes {
			if node == nil {
				continue
			}
			report.Nodes++
			result, err := s.createRedirectsForNode(ctx, node)
			if err != nil {
				report.Failed++
				s.log.WithField("node", node.ContextPath()).WithError(err).Error("creating redirects for node failed")
				continue
			}
			report.Created += len(result.Created)
			report.Removed += result.Removed
			report.Conflicts += len(result.Conflicts)
			if result.Changed() {
				report.Changed++
				s.log.WithField("node", node.ContextPath()).Info("redirects for node updated")
			}
		}
	}
	return report, nil
}

// CreateRedirectsForNode derives the previous redirect set of a node from the
// redirects currently targeting it and reconciles it with the node's field.
func (s *Service) CreateRedirectsForNode(ctx context.Context, node Node) (bool, error) {
	result, err := s.createRedirectsForNode(ctx, node)
	if err != nil {
		return false, err
	}
	return result.Changed(), nil
}

func (s *Service) createRedirectsForNode(ctx context.Context, node Node) (Result, error) {
	var result Result
	if err := s.invalidate(ctx, node); err != nil {
		return result, err
	}
	targetPath, err := s.resolveTargetPath(ctx, node)
	if err != nil {
		return result, err
	}
	existing, err := s.store.FindByTarget(ctx, targetPath)
	if err != nil {
		return result, fmt.Errorf("find redirects targeting %s: %w", targetPath, err)
	}
	raw := s.fieldValue(node)
	if strings.TrimSpace(raw) == "" && len(existing) == 0 {
		return result, nil
	}
	hosts, err := s.hostnames(ctx, node)
	if err != nil {
		return result, err
	}
	desired := NormalizePaths(raw)

	wanted := make(map[string]struct{}, len(desired))
	for _, path := range desired {
		wanted[path] = struct{}{}
	}
	inHosts := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		inHosts[host] = struct{}{}
	}
	old := make([]string, 0, len(existing))
	for _, redirect := range existing {
		if _, ok := inHosts[redirect.Host]; ok {
			if _, ok := wanted[redirect.SourcePath]; !ok {
				old = append(old, redirect.SourcePath)
			}
			continue
		}
		removed, err := s.store.Remove(ctx, redirect.SourcePath, redirect.Host)
		if err != nil {
			return result, fmt.Errorf("remove redirect %s: %w", redirect.SourcePath, err)
		}
		if removed {
			result.Removed++
		}
	}

	reconciled, err := s.reconciler.Reconcile(ctx, ReconcileRequest{
		OldPaths:   old,
		NewPaths:   desired,
		TargetPath: targetPath,
		Hosts:      hosts,
	})
	reconciled.Removed += result.Removed
	if err != nil {
		return reconciled, err
	}
	if reconciled.Changed() {
		if err := s.invalidate(ctx, node); err != nil {
			return reconciled, err
		}
	}
	return reconciled, nil
}

// reconcilePublished runs the publish-time reconciliation of one node whose
// field changed from oldRaw to its current value.
func (s *Service) reconcilePublished(ctx context.Context, node Node, oldRaw string) (Result, error) {
	req := ReconcileRequest{
		OldPaths:    NormalizePaths(oldRaw),
		NewPaths:    NormalizePaths(s.fieldValue(node)),
		NodeRemoved: node.IsRemoved(),
	}
	if !req.NodeRemoved {
		if err := s.invalidate(ctx, node); err != nil {
			return Result{}, err
		}
		targetPath, err := s.resolveTargetPath(ctx, node)
		if err != nil {
			return Result{}, err
		}
		req.TargetPath = targetPath
	}
	hosts, err := s.hostnames(ctx, node)
	if err != nil {
		return Result{}, err
	}
	req.Hosts = hosts

	result, err := s.reconciler.Reconcile(ctx, req)
	if err != nil {
		return result, err
	}
	if result.Changed() {
		if err := s.invalidate(ctx, node); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (s *Service) fieldValue(node Node) string {
	value, err := node.Field(s.redirectField)
	if err != nil {
		if !errors.Is(err, ErrFieldMissing) {
			s.log.WithField("node", node.ContextPath()).WithError(err).Debug("reading redirect field failed, treating as empty")
		}
		return ""
	}
	return value
}

func (s *Service) resolveTargetPath(ctx context.Context, node Node) (string, error) {
	targetPath, err := s.paths.Resolve(ctx, node)
	if err != nil {
		if errors.Is(err, ErrPathUnresolved) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrPathUnresolved, err)
	}
	targetPath = NormalizeTargetPath(targetPath)
	if targetPath == "" {
		return "", fmt.Errorf("%w: node %s", ErrPathUnresolved, node.ContextPath())
	}
	return targetPath, nil
}

func (s *Service) hostnames(ctx context.Context, node Node) ([]string, error) {
	if s.createForAllHosts || s.hosts == nil {
		return []string{AnyHost}, nil
	}
	hosts, err := s.hosts.Hostnames(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("resolve hostnames for %s: %w", node.ContextPath(), err)
	}
	out := make([]string, 0, len(hosts))
	seen := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" {
			continue
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, host)
	}
	if len(out) == 0 {
		return []string{AnyHost}, nil
	}
	return out, nil
}

// invalidate drops the node's cached routes. It runs before the target path
// is resolved so a changed URI is never served from the cache, and again
// after redirects changed.
func (s *Service) invalidate(ctx context.Context, node Node) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx, RoutingCacheTag(node.Identifier())); err != nil {
		return fmt.Errorf("invalidate routing cache for %s: %w", node.ContextPath(), err)
	}
	return nil
}
