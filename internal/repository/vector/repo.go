// Package vector stores catalog vectors as hashes indexed by a single FT
// index, partitioned by a namespace TAG field.
package vector

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kailas-cloud/catalogsearch/internal/db"
	"github.com/kailas-cloud/catalogsearch/internal/domain"
	"github.com/kailas-cloud/catalogsearch/internal/domain/metadata"
	"github.com/kailas-cloud/catalogsearch/internal/domain/namespace"
	"github.com/kailas-cloud/catalogsearch/internal/domain/search/result"
	domvec "github.com/kailas-cloud/catalogsearch/internal/domain/vector"
)

// Hash field layout of a stored vector.
const (
	fieldID        = "__id"
	fieldNamespace = "__namespace"
	fieldMetadata  = "__metadata"
	fieldVector    = "__vector"
	vectorAlias    = "vector"
)

// store is the consumer interface for the vector index (ISP).
//
//nolint:interfacebloat // repo owns the index lifecycle as well as the data
type store interface {
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	DelMulti(ctx context.Context, keys []string) (int, error)
}

// Config describes the FT index.
type Config struct {
	KeyPrefix   string
	IndexName   string
	Dimensions  int
	Distance    db.DistanceMetric
	Algorithm   db.VectorAlgorithm
	M           int
	EFConstruct int
}

// Repo implements the vector writer and reader used by ingest, search and
// index administration.
type Repo struct {
	store store
	cfg   Config
}

// New creates a vector repository.
func New(s store, cfg Config) *Repo {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = domain.KeyPrefix
	}
	if cfg.IndexName == "" {
		cfg.IndexName = cfg.KeyPrefix + "vec:idx"
	}
	if cfg.Distance == "" {
		cfg.Distance = db.DistanceCosine
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = db.VectorHNSW
	}
	return &Repo{store: s, cfg: cfg}
}

// Dimensions returns the configured vector dimension.
func (r *Repo) Dimensions() int { return r.cfg.Dimensions }

// EnsureIndex creates the FT index unless it already exists.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.cfg.IndexName)
	if err != nil {
		return fmt.Errorf("check index %s: %w", r.cfg.IndexName, err)
	}
	if exists {
		return nil
	}

	def, err := r.indexDefinition()
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", r.cfg.IndexName, err)
	}
	return nil
}

// DropIndex removes the FT index. Stored hashes are kept.
func (r *Repo) DropIndex(ctx context.Context) error {
	if err := r.store.DropIndex(ctx, r.cfg.IndexName); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
		return fmt.Errorf("drop index %s: %w", r.cfg.IndexName, err)
	}
	return nil
}

func (r *Repo) indexDefinition() (*db.IndexDefinition, error) {
	b := db.NewIndex(r.cfg.IndexName).
		Prefix(r.vecPrefix()).
		TagWithOpts(fieldNamespace, "|", true)
	switch r.cfg.Algorithm {
	case db.VectorFlat:
		b = b.VectorFlat(fieldVector, r.cfg.Dimensions, r.cfg.Distance, 0)
	default:
		b = b.VectorHNSW(fieldVector, r.cfg.Dimensions, r.cfg.Distance, r.cfg.M, r.cfg.EFConstruct)
	}
	return b.As(vectorAlias).Build()
}

// Upsert writes a batch of vectors into a namespace in one round-trip.
// Existing ids are overwritten.
func (r *Repo) Upsert(ctx context.Context, ns string, vecs []domvec.Vector) error {
	if len(vecs) == 0 {
		return nil
	}
	if err := namespace.Validate(ns); err != nil {
		return err
	}

	items := make([]db.HashSetItem, 0, len(vecs))
	for i := range vecs {
		v := &vecs[i]
		if r.cfg.Dimensions > 0 && len(v.Values()) != r.cfg.Dimensions {
			return fmt.Errorf("vector %s: %w: got %d, want %d",
				v.ID(), domain.ErrVectorDimMismatch, len(v.Values()), r.cfg.Dimensions)
		}
		meta, err := json.Marshal(v.Metadata())
		if err != nil {
			return fmt.Errorf("marshal metadata %s: %w", v.ID(), err)
		}
		items = append(items, db.HashSetItem{
			Key: r.vecKey(ns, v.ID()),
			Fields: map[string]string{
				fieldID:        v.ID(),
				fieldNamespace: ns,
				fieldMetadata:  string(meta),
				fieldVector:    vectorToBytes(v.Values()),
			},
		})
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("upsert %d vectors into %s: %w", len(items), ns, err)
	}
	return nil
}

// Query returns the topK nearest vectors in a namespace, best first.
// Metadata is included, vector values are not.
func (r *Repo) Query(ctx context.Context, ns string, values []float32, topK int) ([]result.Match, error) {
	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.cfg.IndexName,
		VectorField:  vectorAlias,
		Tags:         []db.TagFilter{{Field: fieldNamespace, Value: ns}},
		Vector:       values,
		K:            topK,
		ReturnFields: []string{fieldID, fieldMetadata},
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", ns, err)
	}
	if sr == nil || len(sr.Entries) == 0 {
		return nil, nil
	}

	prefix := r.nsPrefix(ns)
	matches := make([]result.Match, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		id := entry.Fields[fieldID]
		if id == "" {
			id = strings.TrimPrefix(entry.Key, prefix)
		}
		matches = append(matches, result.New(id, entry.Score, decodeMetadata(entry.Fields[fieldMetadata]), ns))
	}
	return matches, nil
}

// Delete removes the given ids from a namespace. Returns how many existed.
func (r *Repo) Delete(ctx context.Context, ns string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := namespace.Validate(ns); err != nil {
		return 0, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.vecKey(ns, id)
	}
	n, err := r.store.DelMulti(ctx, keys)
	if err != nil {
		return n, fmt.Errorf("delete from %s: %w", ns, err)
	}
	return n, nil
}

// DeleteNamespace removes every vector in a namespace.
// The namespace may not contain the key separator, otherwise its pattern
// would also cover keys of longer namespaces sharing the same head.
func (r *Repo) DeleteNamespace(ctx context.Context, ns string) (int, error) {
	if err := namespace.Validate(ns); err != nil {
		return 0, err
	}
	return r.deleteMatching(ctx, globEscape(r.nsPrefix(ns))+"*")
}

// DeleteAll removes every vector of every namespace. The index is kept.
func (r *Repo) DeleteAll(ctx context.Context) (int, error) {
	return r.deleteMatching(ctx, globEscape(r.vecPrefix())+"*")
}

func (r *Repo) deleteMatching(ctx context.Context, pattern string) (int, error) {
	keys, err := r.store.Scan(ctx, pattern)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", pattern, err)
	}
	n, err := r.store.DelMulti(ctx, keys)
	if err != nil {
		return n, fmt.Errorf("delete %s: %w", pattern, err)
	}
	return n, nil
}

// Count returns the number of vectors stored in a namespace.
// SCAN is used because valkey-search has no bare (non-KNN) FT.SEARCH.
func (r *Repo) Count(ctx context.Context, ns string) (int, error) {
	if err := namespace.Validate(ns); err != nil {
		return 0, err
	}
	keys, err := r.store.Scan(ctx, globEscape(r.nsPrefix(ns))+"*")
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", ns, err)
	}
	return len(keys), nil
}

// Key patterns: {prefix}vec:{namespace}:{id}, index {prefix}vec:idx.

func (r *Repo) vecPrefix() string {
	return r.cfg.KeyPrefix + "vec:"
}

func (r *Repo) nsPrefix(ns string) string {
	return r.vecPrefix() + ns + ":"
}

func (r *Repo) vecKey(ns, id string) string {
	return r.nsPrefix(ns) + id
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func globEscape(s string) string {
	return globEscaper.Replace(s)
}

// decodeMetadata restores integer values that JSON would otherwise widen to float64.
func decodeMetadata(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return map[string]any{}
	}
	return metadata.Sanitize(m, "")
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
