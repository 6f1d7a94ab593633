package store

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/kiranshivaraju/findoc/internal/cache"
)

// Open returns the Store selected by the scheme of backendURL.
// Postgres backends are migrated before use.
func Open(ctx context.Context, backendURL string, ttl time.Duration) (Store, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("parse result backend URL: %w", err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		rc, err := cache.NewRedisCache(backendURL)
		if err != nil {
			return nil, fmt.Errorf("connect result backend: %w", err)
		}
		s := NewRedisStore(rc, ttl)
		s.closer = rc.Close
		return s, nil
	case "postgres", "postgresql":
		if err := RunMigrations(backendURL); err != nil {
			return nil, err
		}
		pool, err := Connect(ctx, backendURL)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool, ttl), nil
	case "memory":
		return NewMemoryStore(ttl), nil
	default:
		return nil, fmt.Errorf("unsupported result backend scheme %q", u.Scheme)
	}
}
