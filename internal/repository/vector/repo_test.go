package vector

import (
	"context"
	"errors"
	"path"
	"strings"
	"testing"

	"github.com/kailas-cloud/catalogsearch/internal/db"
	"github.com/kailas-cloud/catalogsearch/internal/domain"
	"github.com/kailas-cloud/catalogsearch/internal/domain/namespace"
	"github.com/kailas-cloud/catalogsearch/internal/domain/record"
	domvec "github.com/kailas-cloud/catalogsearch/internal/domain/vector"
)

func mustVector(t *testing.T, id string, values []float32, meta map[string]any) domvec.Vector {
	t.Helper()
	v, err := domvec.New(id, values, meta, 0)
	if err != nil {
		t.Fatalf("vector.New: %v", err)
	}
	return v
}

func TestEnsureIndex_Creates(t *testing.T) {
	repo, ms := newTestRepo(t)

	var created *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		created = def
		return nil
	}

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil {
		t.Fatal("expected CreateIndex call")
	}
	if created.Name != "catalog:vec:idx" {
		t.Errorf("index name = %q", created.Name)
	}
	if len(created.Prefixes) != 1 || created.Prefixes[0] != "catalog:vec:" {
		t.Errorf("prefixes = %v", created.Prefixes)
	}
	vec := created.Fields[1]
	if vec.Alias != "vector" || vec.VectorDim != testDim || vec.VectorAlgo != db.VectorHNSW ||
		vec.VectorDistance != db.DistanceCosine {
		t.Errorf("vector field = %+v", vec)
	}
}

func TestEnsureIndex_Flat(t *testing.T) {
	ms := &mockStore{}
	repo := New(ms, Config{Dimensions: 8, Algorithm: db.VectorFlat})

	var algo db.VectorAlgorithm
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		algo = def.Fields[1].VectorAlgo
		return nil
	}
	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if algo != db.VectorFlat {
		t.Errorf("algo = %q, want FLAT", algo)
	}
}

func TestEnsureIndex_Exists(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexExistsFn = func(context.Context, string) (bool, error) { return true, nil }
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error {
		t.Fatal("CreateIndex must not be called")
		return nil
	}
	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureIndex_RaceIsTolerated(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error { return db.ErrIndexExists }
	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureIndex_CheckError(t *testing.T) {
	repo, ms := newTestRepo(t)
	boom := errors.New("conn refused")
	ms.indexExistsFn = func(context.Context, string) (bool, error) { return false, boom }
	if err := repo.EnsureIndex(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestUpsert_HashLayout(t *testing.T) {
	repo, ms := newTestRepo(t)

	var items []db.HashSetItem
	ms.hsetMultiFn = func(_ context.Context, in []db.HashSetItem) error {
		items = in
		return nil
	}

	vecs := []domvec.Vector{
		mustVector(t, "p1", []float32{1, 0, 0}, map[string]any{"name": "Red Shoes", "stock": int64(3)}),
		mustVector(t, "p2", []float32{0, 1, 0}, map[string]any{}),
	}
	if err := repo.Upsert(context.Background(), "orphan-products", vecs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	it := items[0]
	if it.Key != "catalog:vec:orphan-products:p1" {
		t.Errorf("key = %q", it.Key)
	}
	if it.Fields["__id"] != "p1" || it.Fields["__namespace"] != "orphan-products" {
		t.Errorf("fields = %v", it.Fields)
	}
	if !strings.Contains(it.Fields["__metadata"], `"name":"Red Shoes"`) {
		t.Errorf("metadata = %q", it.Fields["__metadata"])
	}
	if len(it.Fields["__vector"]) != testDim*4 {
		t.Errorf("vector blob len = %d", len(it.Fields["__vector"]))
	}
}

func TestUpsert_DimMismatch(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hsetMultiFn = func(context.Context, []db.HashSetItem) error {
		t.Fatal("store must not be called")
		return nil
	}
	vecs := []domvec.Vector{mustVector(t, "p1", []float32{1, 0}, nil)}
	err := repo.Upsert(context.Background(), "blogs", vecs)
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
}

func TestUpsert_Empty(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hsetMultiFn = func(context.Context, []db.HashSetItem) error {
		t.Fatal("store must not be called")
		return nil
	}
	if err := repo.Upsert(context.Background(), "blogs", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpsert_StoreError(t *testing.T) {
	repo, ms := newTestRepo(t)
	boom := errors.New("OOM")
	ms.hsetMultiFn = func(context.Context, []db.HashSetItem) error { return boom }
	vecs := []domvec.Vector{mustVector(t, "p1", []float32{1, 0, 0}, nil)}
	if err := repo.Upsert(context.Background(), "blogs", vecs); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestQuery(t *testing.T) {
	repo, ms := newTestRepo(t)

	var got *db.KNNQuery
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		got = q
		return &db.SearchResult{Total: 2, Entries: []db.SearchEntry{
			{
				Key:    "catalog:vec:blogs:b1",
				Score:  0.98,
				Fields: map[string]string{"__id": "b1", "__metadata": `{"title":"Terpenes","views":12}`},
			},
			{
				Key:    "catalog:vec:blogs:b2",
				Score:  0.5,
				Fields: map[string]string{"__metadata": `not json`},
			},
		}}, nil
	}

	matches, err := repo.Query(context.Background(), "blogs", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.K != 5 || got.IndexName != "catalog:vec:idx" || got.VectorField != "vector" {
		t.Errorf("query = %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0].Field != "__namespace" || got.Tags[0].Value != "blogs" {
		t.Errorf("tags = %+v", got.Tags)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID() != "b1" || matches[0].Score() != 0.98 || matches[0].Namespace() != "blogs" {
		t.Errorf("match[0] = %+v", matches[0])
	}
	if matches[0].Metadata()["views"] != int64(12) {
		t.Errorf("expected integer metadata, got %#v", matches[0].Metadata()["views"])
	}
	// id falls back to the key suffix; broken metadata becomes empty
	if matches[1].ID() != "b2" || len(matches[1].Metadata()) != 0 {
		t.Errorf("match[1] = %+v", matches[1])
	}
}

func TestQuery_Error(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		return nil, db.ErrIndexNotFound
	}
	if _, err := repo.Query(context.Background(), "blogs", []float32{1, 0, 0}, 5); !errors.Is(err, db.ErrIndexNotFound) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	repo, ms := newTestRepo(t)
	var keys []string
	ms.delMultiFn = func(_ context.Context, k []string) (int, error) {
		keys = k
		return 1, nil
	}
	n, err := repo.Delete(context.Background(), "stores", []string{"89101", "89102"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if keys[0] != "catalog:vec:stores:89101" || keys[1] != "catalog:vec:stores:89102" {
		t.Errorf("keys = %v", keys)
	}
}

func TestDeleteNamespace_EscapesPattern(t *testing.T) {
	repo, ms := newTestRepo(t)
	var pattern string
	ms.scanFn = func(_ context.Context, p string) ([]string, error) {
		pattern = p
		return []string{"a", "b"}, nil
	}
	n, err := repo.DeleteNamespace(context.Background(), "lv[1]-products")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}
	if pattern != `catalog:vec:lv\[1\]-products:*` {
		t.Errorf("pattern = %q", pattern)
	}
}

func TestDeleteAll(t *testing.T) {
	repo, ms := newTestRepo(t)
	var pattern string
	ms.scanFn = func(_ context.Context, p string) ([]string, error) {
		pattern = p
		return []string{"x"}, nil
	}
	if _, err := repo.DeleteAll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pattern != "catalog:vec:*" {
		t.Errorf("pattern = %q", pattern)
	}
}

func TestCount(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.scanFn = func(_ context.Context, p string) ([]string, error) {
		if p != "catalog:vec:blogs:*" {
			t.Errorf("pattern = %q", p)
		}
		return []string{"a", "b", "c"}, nil
	}
	n, err := repo.Count(context.Background(), "blogs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

// keyspace backs Scan, HSetMulti and DelMulti with a glob-matched key set.
func keyspace(ms *mockStore, keys ...string) map[string]bool {
	live := make(map[string]bool, len(keys))
	for _, k := range keys {
		live[k] = true
	}
	ms.hsetMultiFn = func(_ context.Context, items []db.HashSetItem) error {
		for _, it := range items {
			live[it.Key] = true
		}
		return nil
	}
	ms.scanFn = func(_ context.Context, pattern string) ([]string, error) {
		var out []string
		for k := range live {
			if ok, _ := path.Match(pattern, k); ok {
				out = append(out, k)
			}
		}
		return out, nil
	}
	ms.delMultiFn = func(_ context.Context, keys []string) (int, error) {
		n := 0
		for _, k := range keys {
			if live[k] {
				delete(live, k)
				n++
			}
		}
		return n, nil
	}
	return live
}

func TestNamespaces_DoNotOverlap(t *testing.T) {
	repo, ms := newTestRepo(t)
	live := keyspace(ms, "catalog:vec:blogs:b1", "catalog:vec:lv-7-products:p1")
	ctx := context.Background()

	// a location carrying the separator must not reach the blogs key range
	leaky := namespace.Route(record.Products, "blogs:7")
	err := repo.Upsert(ctx, leaky, []domvec.Vector{mustVector(t, "p2", []float32{1, 0, 0}, nil)})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for %q, got %v", leaky, err)
	}
	if _, err := repo.DeleteNamespace(ctx, leaky); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation on delete, got %v", err)
	}
	if _, err := repo.Count(ctx, leaky); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation on count, got %v", err)
	}

	n, err := repo.Count(ctx, "blogs")
	if err != nil || n != 1 {
		t.Fatalf("Count(blogs) = %d, %v; want 1", n, err)
	}
	n, err = repo.DeleteNamespace(ctx, "blogs")
	if err != nil || n != 1 {
		t.Fatalf("DeleteNamespace(blogs) = %d, %v; want 1", n, err)
	}
	if !live["catalog:vec:lv-7-products:p1"] || len(live) != 1 {
		t.Errorf("other namespaces must survive, left %v", live)
	}
}

func TestDropIndex_Missing(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.dropIndexFn = func(context.Context, string) error { return db.ErrIndexNotFound }
	if err := repo.DropIndex(context.Background()); err != nil {
		t.Fatalf("missing index should not fail: %v", err)
	}
}
