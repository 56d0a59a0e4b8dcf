package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/config"
	"github.com/ElementareTeilchen/neos-externalRedirect/internal/content"
	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
	"github.com/ElementareTeilchen/neos-externalRedirect/internal/storage"
)

// runtime holds the collaborators shared by all subcommands.
type runtime struct {
	repo    *content.Repository
	store   redirect.RedirectStore
	cache   storage.RoutingCache
	service *redirect.Service
}

func openRuntime(cfg *config.Config, log *logrus.Logger) (*runtime, error) {
	repo, err := content.Open(cfg.Content.File, content.Options{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("open content %s: %w", cfg.Content.File, err)
	}
	store, err := storage.BuildRedirectStoreFromDSN(cfg.Storage.RedirectsDSN)
	if err != nil {
		return nil, fmt.Errorf("open redirect store: %w", err)
	}
	cache, err := storage.BuildRoutingCacheFromDSN(cfg.Storage.RoutingCacheDSN)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open routing cache: %w", err)
	}
	service, err := redirect.NewService(redirect.ServiceOptions{
		Lookup:            repo,
		Presets:           repo,
		Paths:             content.NewCachingPathBuilder(repo, cache, log),
		Hosts:             repo,
		Store:             store,
		RoutingCache:      cache,
		StatusCode:        cfg.StatusCode,
		CreateForAllHosts: cfg.CreateForAllHosts,
		RedirectField:     cfg.RedirectField,
		NodeType:          cfg.NodeType,
		SiteRoot:          cfg.SiteRoot,
		LiveWorkspace:     cfg.LiveWorkspace,
		Logger:            log,
	})
	if err != nil {
		_ = store.Close()
		_ = cache.Close()
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"content":  repo.Path(),
		"storage":  storage.RedactDSN(cfg.Storage.RedirectsDSN),
		"routing":  storage.RedactDSN(cfg.Storage.RoutingCacheDSN),
		"nodeType": cfg.NodeType,
	}).Debug("runtime ready")
	return &runtime{repo: repo, store: store, cache: cache, service: service}, nil
}

func (r *runtime) Close() error {
	return errors.Join(r.store.Close(), r.cache.Close())
}
