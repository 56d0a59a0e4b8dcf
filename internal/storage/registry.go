package storage

import (
	"strings"
	"sync"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
)

type RedirectStoreFactory func(dsn string) (redirect.RedirectStore, error)
type RoutingCacheFactory func(dsn string) (RoutingCache, error)

var backendFactoryRegistry = struct {
	mu             sync.RWMutex
	storeFactories map[string]RedirectStoreFactory
	routeFactories map[string]RoutingCacheFactory
}{
	storeFactories: map[string]RedirectStoreFactory{},
	routeFactories: map[string]RoutingCacheFactory{},
}

func RegisterRedirectStoreFactory(scheme string, factory RedirectStoreFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.storeFactories[scheme] = factory
}

func RegisterRoutingCacheFactory(scheme string, factory RoutingCacheFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.routeFactories[scheme] = factory
}

func lookupRedirectStoreFactory(scheme string) (RedirectStoreFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.storeFactories[scheme]
	return factory, ok
}

func lookupRoutingCacheFactory(scheme string) (RoutingCacheFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.routeFactories[scheme]
	return factory, ok
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
