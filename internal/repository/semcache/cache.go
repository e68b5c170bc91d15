// Package semcache is a self-hosted semantic response cache on the same
// Redis/Valkey deployment as the vector index.
package semcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kailas-cloud/catalogsearch/internal/db"
	"github.com/kailas-cloud/catalogsearch/internal/domain"
)

const (
	fieldPrompt   = "__prompt"
	fieldResponse = "__response"
	fieldVector   = "__vector"
	vectorAlias   = "vector"
)

// store is the consumer interface for the semantic cache (ISP).
//
//nolint:interfacebloat // cache owns its index as well as its entries
type store interface {
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	DelMulti(ctx context.Context, keys []string) (int, error)
}

// Config describes the cache index.
type Config struct {
	KeyPrefix  string
	Dimensions int
	Distance   db.DistanceMetric
}

// Cache stores prompt → response entries and looks them up by exact key
// first, then by nearest prompt vector.
type Cache struct {
	store    store
	embedder domain.Embedder
	prefix   string
	index    string
	dim      int
	distance db.DistanceMetric
}

// New creates a semantic cache. embedder vectorizes prompts on both paths.
func New(s store, embedder domain.Embedder, cfg Config) *Cache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = domain.KeyPrefix
	}
	if cfg.Distance == "" {
		cfg.Distance = db.DistanceCosine
	}
	prefix := cfg.KeyPrefix + "semcache:"
	return &Cache{
		store:    s,
		embedder: embedder,
		prefix:   prefix,
		index:    prefix + "idx",
		dim:      cfg.Dimensions,
		distance: cfg.Distance,
	}
}

// EnsureIndex creates the cache index unless it already exists.
func (c *Cache) EnsureIndex(ctx context.Context) error {
	exists, err := c.store.IndexExists(ctx, c.index)
	if err != nil {
		return fmt.Errorf("check index %s: %w", c.index, err)
	}
	if exists {
		return nil
	}
	def, err := db.NewIndex(c.index).
		Prefix(c.prefix).
		VectorFlat(fieldVector, c.dim, c.distance, 0).
		As(vectorAlias).
		Build()
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := c.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", c.index, err)
	}
	return nil
}

// Search returns the best entry whose similarity is at least threshold.
func (c *Cache) Search(ctx context.Context, prompt string, threshold float64) (domain.CacheHit, bool, error) {
	id := entryID(prompt)

	fields, err := c.store.HGetAll(ctx, c.key(id))
	if err != nil {
		return domain.CacheHit{}, false, fmt.Errorf("exact lookup: %w", err)
	}
	if resp, ok := fields[fieldResponse]; ok {
		return domain.CacheHit{ID: id, Prompt: fields[fieldPrompt], Response: resp, Similarity: 1}, true, nil
	}

	emb, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		return domain.CacheHit{}, false, fmt.Errorf("embed prompt: %w", err)
	}

	res, err := c.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    c.index,
		VectorField:  vectorAlias,
		Vector:       emb.Embedding,
		K:            1,
		ReturnFields: []string{fieldPrompt, fieldResponse},
	})
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return domain.CacheHit{}, false, nil
		}
		return domain.CacheHit{}, false, fmt.Errorf("similarity lookup: %w", err)
	}
	if res == nil || len(res.Entries) == 0 {
		return domain.CacheHit{}, false, nil
	}

	best := res.Entries[0]
	if best.Score < threshold {
		return domain.CacheHit{}, false, nil
	}
	return domain.CacheHit{
		ID:         strings.TrimPrefix(best.Key, c.prefix),
		Prompt:     best.Fields[fieldPrompt],
		Response:   best.Fields[fieldResponse],
		Similarity: best.Score,
	}, true, nil
}

// Store writes an entry, replacing any previous response for the same prompt.
// ttl <= 0 keeps the entry until flushed.
func (c *Cache) Store(ctx context.Context, prompt, response string, ttl time.Duration) error {
	emb, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		return fmt.Errorf("embed prompt: %w", err)
	}
	if c.dim > 0 && len(emb.Embedding) != c.dim {
		return fmt.Errorf("%w: got %d, want %d", domain.ErrVectorDimMismatch, len(emb.Embedding), c.dim)
	}

	key := c.key(entryID(prompt))
	if err := c.store.HSet(ctx, key, map[string]string{
		fieldPrompt:   prompt,
		fieldResponse: response,
		fieldVector:   vectorToBytes(emb.Embedding),
	}); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	if ttl > 0 {
		if err := c.store.Expire(ctx, key, ttl); err != nil {
			return fmt.Errorf("expire entry: %w", err)
		}
	}
	return nil
}

// Delete removes one entry by id.
func (c *Cache) Delete(ctx context.Context, id string) error {
	n, err := c.store.DelMulti(ctx, []string{c.key(id)})
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("cache entry %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Flush removes every entry. The index is kept.
func (c *Cache) Flush(ctx context.Context) error {
	keys, err := c.store.Scan(ctx, c.prefix+"*")
	if err != nil {
		return fmt.Errorf("scan entries: %w", err)
	}
	if _, err := c.store.DelMulti(ctx, keys); err != nil {
		return fmt.Errorf("flush entries: %w", err)
	}
	return nil
}

func (c *Cache) key(id string) string {
	return c.prefix + id
}

func entryID(prompt string) string {
	h := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(h[:])
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
