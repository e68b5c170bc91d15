package cache

import (
	"context"
	"time"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
)

// Backend is a semantic prompt → response store.
// Implemented by transport/langcache.Client and repository/semcache.Cache.
type Backend interface {
	Search(ctx context.Context, prompt string, threshold float64) (domain.CacheHit, bool, error)
	Store(ctx context.Context, prompt, response string, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	Flush(ctx context.Context) error
}
