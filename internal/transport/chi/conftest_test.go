package chi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
	"github.com/kailas-cloud/catalogsearch/internal/domain/search/request"
	"github.com/kailas-cloud/catalogsearch/internal/domain/search/result"
	domvec "github.com/kailas-cloud/catalogsearch/internal/domain/vector"
	cacheuc "github.com/kailas-cloud/catalogsearch/internal/usecase/cache"
	healthuc "github.com/kailas-cloud/catalogsearch/internal/usecase/health"
	indexuc "github.com/kailas-cloud/catalogsearch/internal/usecase/index"
	ingestuc "github.com/kailas-cloud/catalogsearch/internal/usecase/ingest"
	searchuc "github.com/kailas-cloud/catalogsearch/internal/usecase/search"
)

// tokenEmbedder returns a fixed vector and reports 3 tokens per call.
type tokenEmbedder struct {
	err error
}

func (e *tokenEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	domain.UsageFromContext(ctx).AddTokens(3)
	return []float32{1, 0, 0}, nil
}

// memIndex is an in-memory vector index keyed by namespace then id.
type memIndex struct {
	mu       sync.Mutex
	data     map[string]map[string]domvec.Vector
	queryErr error
	upserted chan string
}

func newMemIndex() *memIndex {
	return &memIndex{data: map[string]map[string]domvec.Vector{}, upserted: make(chan string, 64)}
}

func (m *memIndex) Upsert(_ context.Context, ns string, vecs []domvec.Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[ns] == nil {
		m.data[ns] = map[string]domvec.Vector{}
	}
	for _, v := range vecs {
		m.data[ns][v.ID()] = v
		m.upserted <- v.ID()
	}
	return nil
}

func (m *memIndex) Query(_ context.Context, ns string, _ []float32, topK int) ([]result.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []result.Match
	for id, v := range m.data[ns] {
		if len(out) == topK {
			break
		}
		out = append(out, result.New(id, 0.9, v.Metadata(), ns))
	}
	return out, nil
}

func (m *memIndex) Count(_ context.Context, ns string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data[ns]), nil
}

func (m *memIndex) Delete(_ context.Context, ns string, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := m.data[ns][id]; ok {
			delete(m.data[ns], id)
			n++
		}
	}
	return n, nil
}

func (m *memIndex) DeleteNamespace(_ context.Context, ns string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.data[ns])
	delete(m.data, ns)
	return n, nil
}

func (m *memIndex) DeleteAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, vs := range m.data {
		n += len(vs)
	}
	m.data = map[string]map[string]domvec.Vector{}
	return n, nil
}

type okPinger struct{ err error }

func (p okPinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	handler http.Handler
	index   *memIndex
	ingest  *ingestuc.Service
	search  *searchuc.Service
}

type envOptions struct {
	embedErr error
	apiKeys  []string
	dbErr    error
}

func newTestEnv(t *testing.T, o envOptions) *testEnv {
	t.Helper()
	log := zap.NewNop()
	idx := newMemIndex()
	emb := &tokenEmbedder{err: o.embedErr}

	ing, err := ingestuc.New(emb, idx, ingestuc.Config{Workers: 2, BatchSize: 2, MaxJobs: 1, MaxBatchRecords: 5}, log)
	if err != nil {
		t.Fatalf("ingest.New: %v", err)
	}
	srch := searchuc.New(emb, idx, nil, nil, searchuc.Config{}, log)
	t.Cleanup(func() {
		_ = ing.Close(0)
		_ = srch.Close(context.Background())
	})

	srv := NewServer(
		ing,
		srch,
		indexuc.New(idx, log),
		cacheuc.New(nil, cacheuc.Config{}, log),
		healthuc.New(okPinger{err: o.dbErr}),
		Options{Limits: request.Limits{MaxTopK: 20}, APIKeys: o.apiKeys},
		log,
	)
	return &testEnv{handler: srv.Router(), index: idx, ingest: ing, search: srch}
}

func (e *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

var errBoom = errors.New("boom")
