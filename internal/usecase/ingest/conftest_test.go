package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	domvec "github.com/kailas-cloud/catalogsearch/internal/domain/vector"
)

const testDim = 3

// fakeEmbedder fails for texts containing failMarker.
type fakeEmbedder struct {
	mu         sync.Mutex
	calls      int
	failMarker string
	block      chan struct{}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failMarker != "" && strings.Contains(text, f.failMarker) {
		return nil, errors.New("provider rejected input")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

// batchingEmbedder adds EmbedBatch on top of fakeEmbedder. A batch fails as a
// whole when any of its texts carries the fail marker.
type batchingEmbedder struct {
	fakeEmbedder
	batchCalls int
	batchSizes []int
}

func (b *batchingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	b.batchCalls++
	b.batchSizes = append(b.batchSizes, len(texts))
	b.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if b.failMarker != "" && strings.Contains(text, b.failMarker) {
			return nil, errors.New("batch rejected")
		}
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

// fakeWriter records every upserted batch.
type fakeWriter struct {
	mu      sync.Mutex
	batches [][]domvec.Vector
	nss     []string
	failOn  int // 1-based batch number to fail, 0 = never
}

func (w *fakeWriter) Upsert(_ context.Context, ns string, vecs []domvec.Vector) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nss = append(w.nss, ns)
	if w.failOn > 0 && len(w.nss) == w.failOn {
		return errors.New("OOM command not allowed")
	}
	cp := make([]domvec.Vector, len(vecs))
	copy(cp, vecs)
	w.batches = append(w.batches, cp)
	return nil
}

func (w *fakeWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func newTestService(t *testing.T, emb *fakeEmbedder, w *fakeWriter, cfg Config) (*Service, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	svc, err := New(emb, w, cfg, zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(0) })
	return svc, logs
}

func newBatchingService(t *testing.T, emb *batchingEmbedder, w *fakeWriter, cfg Config) (*Service, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	svc, err := New(emb, w, cfg, zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(0) })
	return svc, logs
}

// blogRecords returns n blog records; those whose index is in bad carry a
// title the fake embedder rejects.
func blogRecords(n int, bad ...int) []map[string]any {
	isBad := map[int]bool{}
	for _, b := range bad {
		isBad[b] = true
	}
	out := make([]map[string]any, n)
	for i := range out {
		title := "Post"
		if isBad[i] {
			title = "REJECT"
		}
		out[i] = map[string]any{"type": "both", "databaseId": float64(1000 + i), "title": title}
	}
	return out
}
