package ingest

import (
	"context"

	domvec "github.com/kailas-cloud/catalogsearch/internal/domain/vector"
)

// Embedder vectorizes synthesized record text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder vectorizes several texts in one call, in input order.
// Batch jobs use it when Config.EmbedChunk is above one.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter upserts vectors into a namespace.
type VectorWriter interface {
	Upsert(ctx context.Context, ns string, vecs []domvec.Vector) error
}
