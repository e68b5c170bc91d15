package search

import (
	"context"

	"github.com/kailas-cloud/catalogsearch/internal/domain/search/result"
)

// Embedder vectorizes the query.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorReader runs a KNN query inside one namespace.
type VectorReader interface {
	Query(ctx context.Context, ns string, values []float32, topK int) ([]result.Match, error)
}

// Cache is the semantic response cache. Both methods are best-effort.
type Cache interface {
	Get(ctx context.Context, query string) ([]result.Match, bool)
	Set(ctx context.Context, query string, matches []result.Match)
}

// Rewriter optionally rewrites the query before embedding.
type Rewriter interface {
	Rewrite(ctx context.Context, query string) (string, error)
}
