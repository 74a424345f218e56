// Package keys resolves AES-128 decryption keys for encrypted fragments.
package keys

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"hlsclient/internal/logger"
)

// Fetcher fetches raw key bytes from a URI.
type Fetcher interface {
	LoadKey(ctx context.Context, uri string) ([]byte, error)
}

// Service caches fetched keys by URI. Keys rotate on live streams, so
// cached entries expire rather than living for the session.
type Service struct {
	log      logger.Logger
	fetcher  Fetcher
	cache    *gocache.Cache
	preseeded map[string][]byte
}

// NewService creates a key service. preseeded maps key URIs to key bytes
// provided out of band; those never expire and are never fetched.
func NewService(log logger.Logger, fetcher Fetcher, preseeded map[string][]byte) (*Service, error) {
	seeded := make(map[string][]byte, len(preseeded))
	for uri, key := range preseeded {
		if len(key) != 16 {
			return nil, fmt.Errorf("preseeded key for %s has invalid length %d", uri, len(key))
		}
		seeded[uri] = key
	}
	return &Service{
		log:      log.With("keys"),
		fetcher:  fetcher,
		cache:    gocache.New(30*time.Minute, 5*time.Minute),
		preseeded: seeded,
	}, nil
}

// GetKey returns the key for the given URI, fetching and caching it on a
// miss.
func (s *Service) GetKey(ctx context.Context, uri string) ([]byte, error) {
	if key, ok := s.preseeded[uri]; ok {
		return key, nil
	}
	if cached, ok := s.cache.Get(uri); ok {
		return cached.([]byte), nil
	}

	key, err := s.fetcher.LoadKey(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to load key: %w", err)
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("key from %s has invalid length %d", uri, len(key))
	}

	s.cache.Set(uri, key, gocache.DefaultExpiration)
	s.log.Debugf("Cached decryption key from %s", uri)
	return key, nil
}
