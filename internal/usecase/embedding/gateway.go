// Package embedding turns text into vectors of a fixed dimension.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
)

// DefaultBatchConcurrency bounds parallel single-text calls when the
// provider has no native batch endpoint.
const DefaultBatchConcurrency = 4

// Gateway is the single entry point for embeddings used by ingest, search
// and the semantic cache. It validates inputs and output dimensions and
// reports token usage into the request context. It never retries.
type Gateway struct {
	embedder    domain.Embedder
	dim         int
	concurrency int
}

// NewGateway creates a gateway. dim <= 0 disables the dimension check.
func NewGateway(e domain.Embedder, dim, concurrency int) *Gateway {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	return &Gateway{embedder: e, dim: dim, concurrency: concurrency}
}

// Dimensions returns the expected vector length.
func (g *Gateway) Dimensions() int { return g.dim }

// Embed returns the vector for one text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is empty", domain.ErrEmbedding)
	}

	res, err := g.embedder.Embed(ctx, text)
	if err != nil {
		return nil, providerError(err)
	}
	domain.UsageFromContext(ctx).AddTokens(res.TotalTokens)

	if err := g.checkDim(res.Embedding); err != nil {
		return nil, err
	}
	return res.Embedding, nil
}

// EmbedBatch returns one vector per text, in input order.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: text [%d] is empty", domain.ErrEmbedding, i)
		}
	}

	var out [][]float32
	if be, ok := g.embedder.(domain.BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return nil, providerError(err)
		}
		if len(res.Embeddings) != len(texts) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
				domain.ErrEmbeddingProviderError, len(res.Embeddings), len(texts))
		}
		domain.UsageFromContext(ctx).AddTokens(res.TotalTokens)
		out = res.Embeddings
	} else {
		var err error
		if out, err = g.fanOut(ctx, texts); err != nil {
			return nil, err
		}
	}

	for i, v := range out {
		if err := g.checkDim(v); err != nil {
			return nil, fmt.Errorf("text [%d]: %w", i, err)
		}
	}
	return out, nil
}

// fanOut embeds texts one by one with bounded concurrency.
// Each goroutine writes only its own slot, so order is preserved.
func (g *Gateway) fanOut(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)

	for i, text := range texts {
		eg.Go(func() error {
			res, err := g.embedder.Embed(egCtx, text)
			if err != nil {
				return fmt.Errorf("text [%d]: %w", i, providerError(err))
			}
			domain.UsageFromContext(ctx).AddTokens(res.TotalTokens)
			out[i] = res.Embedding
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err //nolint:wrapcheck // already wrapped per text
	}
	return out, nil
}

func (g *Gateway) checkDim(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", domain.ErrEmbeddingProviderError)
	}
	if g.dim > 0 && len(v) != g.dim {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrVectorDimMismatch, len(v), g.dim)
	}
	return nil
}

// providerError makes sure an upstream failure maps to ErrEmbeddingProviderError.
func providerError(err error) error {
	if errors.Is(err, domain.ErrEmbeddingProviderError) || errors.Is(err, domain.ErrEmbedding) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrEmbeddingProviderError, err)
}
