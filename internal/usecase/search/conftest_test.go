package search

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsearch/internal/domain/namespace"
	"github.com/kailas-cloud/catalogsearch/internal/domain/search/request"
	"github.com/kailas-cloud/catalogsearch/internal/domain/search/result"
)

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	texts []string
	err   error
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.texts = append(e.texts, text)
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0, 0}, nil
}

// fakeIndex serves fixed matches per namespace.
type fakeIndex struct {
	mu      sync.Mutex
	data    map[string][]result.Match
	fail    map[string]error
	queried []string
	topK    int
}

func (f *fakeIndex) Query(_ context.Context, ns string, _ []float32, topK int) ([]result.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, ns)
	f.topK = topK
	if err := f.fail[ns]; err != nil {
		return nil, err
	}
	return f.data[ns], nil
}

// memCache is an exact-key cache.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]result.Match
	sets    int
}

func newMemCache() *memCache { return &memCache{entries: map[string][]result.Match{}} }

func (c *memCache) Get(_ context.Context, q string) ([]result.Match, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[q]
	return m, ok && len(m) > 0
}

func (c *memCache) Set(_ context.Context, q string, m []result.Match) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[q] = m
}

type stubRewriter struct {
	out string
	err error
}

func (r *stubRewriter) Rewrite(context.Context, string) (string, error) { return r.out, r.err }

func match(id string, score float64, ns string) result.Match {
	return result.New(id, score, map[string]any{"name": id}, ns)
}

func newReq(t *testing.T, query string, scope namespace.Scope, loc string, topK int) *request.Request {
	t.Helper()
	req, err := request.New(query, scope, loc, topK, request.Limits{})
	require.NoError(t, err)
	return &req
}

func ids(ms []result.Match) []string {
	out := make([]string, len(ms))
	for i := range ms {
		out[i] = ms[i].ID()
	}
	return out
}

func nop() *zap.Logger { return zap.NewNop() }
