package storage

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
)

// BuildRedirectStoreFromDSN opens the redirect store named by dsn. Registered
// factories take precedence over the built-in schemes.
func BuildRedirectStoreFromDSN(dsn string) (redirect.RedirectStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, redirect.ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupRedirectStoreFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileStore(path)
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	case "sqlite", "sqlite3":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteStore(path)
	case "badger":
		if strings.EqualFold(parsed.Query().Get("in_memory"), "true") {
			return NewBadgerStore("", true)
		}
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewBadgerStore(path, false)
	case "mysql":
		return nil, fmt.Errorf("%w: redirect store %s", redirect.ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported redirect store scheme: %s", scheme)
	}
}

// BuildRoutingCacheFromDSN opens the routing cache named by dsn. An empty dsn
// yields an in-memory cache.
func BuildRoutingCacheFromDSN(dsn string) (RoutingCache, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryRoutingCache(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupRoutingCacheFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewMemoryRoutingCache(), nil
	case "redis", "rediss":
		return NewRedisRoutingCache(dsn)
	case "memcached":
		return nil, fmt.Errorf("%w: routing cache %s", redirect.ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported routing cache scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", redirect.ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", redirect.ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if host := strings.TrimSpace(parsed.Host); host != "" {
		// file://relative/dir/redirects.json
		path = host + path
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		return "", redirect.ErrInvalidInput
	}
	return path, nil
}

// RedactDSN masks the password of dsn for logging.
func RedactDSN(dsn string) string {
	parsed, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil || parsed.User == nil {
		return dsn
	}
	return parsed.Redacted()
}
