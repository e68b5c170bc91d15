package semcache

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/catalogsearch/internal/db"
	"github.com/kailas-cloud/catalogsearch/internal/domain"
)

// mockStore keeps hashes in memory and delegates KNN to searchFn.
type mockStore struct {
	hashes   map[string]map[string]string
	ttls     map[string]time.Duration
	created  *db.IndexDefinition
	exists   bool
	searchFn func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	hgetErr  error
}

func newMockStore() *mockStore {
	return &mockStore{hashes: map[string]map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *mockStore) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	m.created = def
	return nil
}

func (m *mockStore) IndexExists(context.Context, string) (bool, error) { return m.exists, nil }

func (m *mockStore) HSet(_ context.Context, key string, fields map[string]string) error {
	m.hashes[key] = fields
	return nil
}

func (m *mockStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	if m.hgetErr != nil {
		return nil, m.hgetErr
	}
	if h, ok := m.hashes[key]; ok {
		return h, nil
	}
	return map[string]string{}, nil
}

func (m *mockStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.ttls[key] = ttl
	return nil
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) Scan(context.Context, string) ([]string, error) {
	keys := make([]string, 0, len(m.hashes))
	for k := range m.hashes {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *mockStore) DelMulti(_ context.Context, keys []string) (int, error) {
	n := 0
	for _, k := range keys {
		if _, ok := m.hashes[k]; ok {
			delete(m.hashes, k)
			n++
		}
	}
	return n, nil
}

type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (s *stubEmbedder) Embed(context.Context, string) (domain.EmbeddingResult, error) {
	s.calls++
	return domain.EmbeddingResult{Embedding: s.vec}, s.err
}

func newTestCache(t *testing.T) (*Cache, *mockStore, *stubEmbedder) {
	t.Helper()
	ms := newMockStore()
	emb := &stubEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	return New(ms, emb, Config{Dimensions: 3}), ms, emb
}
