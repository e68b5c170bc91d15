// Package search answers queries from the semantic cache or by fanning out
// a KNN query across namespaces.
package search

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
	"github.com/kailas-cloud/catalogsearch/internal/domain/namespace"
	"github.com/kailas-cloud/catalogsearch/internal/domain/search/request"
	"github.com/kailas-cloud/catalogsearch/internal/domain/search/result"
	"github.com/kailas-cloud/catalogsearch/internal/metrics"
)

// DefaultCacheWriteTimeout bounds a background cache write.
const DefaultCacheWriteTimeout = 5 * time.Second

// Config tunes the orchestrator.
type Config struct {
	// MaxResults > 0 sorts merged matches by score and keeps the best N.
	MaxResults        int
	CacheWriteTimeout time.Duration
}

// Response is the search outcome.
type Response struct {
	Results        []result.Match
	QueryRewritten *string
	Cached         bool
}

// TotalResults returns the number of matches.
func (r *Response) TotalResults() int { return len(r.Results) }

// Service is the search orchestrator.
type Service struct {
	embed    Embedder
	vectors  VectorReader
	cache    Cache
	rewriter Rewriter
	cfg      Config
	logger   *zap.Logger

	pending sync.WaitGroup
}

// New creates a search service. cache and rewriter may be nil.
func New(embed Embedder, vectors VectorReader, cache Cache, rewriter Rewriter, cfg Config, logger *zap.Logger) *Service {
	if cfg.CacheWriteTimeout <= 0 {
		cfg.CacheWriteTimeout = DefaultCacheWriteTimeout
	}
	return &Service{
		embed:    embed,
		vectors:  vectors,
		cache:    cache,
		rewriter: rewriter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Search runs cache check → rewrite → embed → fan-out → merge and schedules
// a background cache write on a miss.
func (s *Service) Search(ctx context.Context, req *request.Request) (Response, error) {
	query := req.Query()

	if s.cache != nil {
		if matches, ok := s.cache.Get(ctx, query); ok {
			return Response{Results: matches, Cached: true}, nil
		}
	}

	var rewritten *string
	embedText := query
	if s.rewriter != nil {
		rw, err := s.rewriter.Rewrite(ctx, query)
		if err != nil {
			s.logger.Warn("Query rewrite failed, using original query", zap.Error(err))
		} else {
			rewritten = &rw
			embedText = rw
		}
	}

	vec, err := s.embed.Embed(ctx, embedText)
	if err != nil {
		return Response{}, fmt.Errorf("embed query: %w", err)
	}

	matches, err := s.fanOut(ctx, req.Namespaces(), vec, req.TopK())
	if err != nil {
		return Response{}, err
	}

	if s.cache != nil && len(matches) > 0 {
		s.writeCache(ctx, query, matches)
	}
	return Response{Results: matches, QueryRewritten: rewritten}, nil
}

// fanOut queries every namespace in parallel. Each goroutine owns one slot,
// so concatenating the slots keeps namespace order.
func (s *Service) fanOut(ctx context.Context, namespaces []string, vec []float32, topK int) ([]result.Match, error) {
	slots := make([][]result.Match, len(namespaces))
	errs := make([]error, len(namespaces))

	var eg errgroup.Group
	for i, ns := range namespaces {
		eg.Go(func() error {
			start := time.Now()
			matches, err := s.vectors.Query(ctx, ns, vec, topK)
			status := "ok"
			if err != nil {
				status = "error"
				errs[i] = err
				s.logger.Warn("Namespace query failed", zap.String("namespace", ns), zap.Error(err))
			}
			metrics.SearchQueryDuration.WithLabelValues(namespace.Kind(ns), status).Observe(time.Since(start).Seconds())
			slots[i] = matches
			return nil
		})
	}
	_ = eg.Wait()

	failed := 0
	var merged []result.Match
	for i := range slots {
		if errs[i] != nil {
			failed++
			continue
		}
		merged = append(merged, slots[i]...)
	}
	if failed == len(namespaces) {
		return nil, fmt.Errorf("%w: all %d namespace queries failed: %w", domain.ErrUpstream, failed, errs[0])
	}

	if s.cfg.MaxResults > 0 {
		sort.SliceStable(merged, func(a, b int) bool {
			return merged[a].Score() > merged[b].Score()
		})
		if len(merged) > s.cfg.MaxResults {
			merged = merged[:s.cfg.MaxResults]
		}
	}
	if merged == nil {
		merged = []result.Match{}
	}
	return merged, nil
}

// writeCache stores matches in the background. The write survives request
// cancellation and is drained by Close.
func (s *Service) writeCache(ctx context.Context, query string, matches []result.Match) {
	bg := context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("Cache write panicked", zap.Any("panic", p))
			}
		}()
		wctx, cancel := context.WithTimeout(bg, s.cfg.CacheWriteTimeout)
		defer cancel()
		s.cache.Set(wctx, query, matches)
	}()
}

// Close waits for pending cache writes or until ctx is done.
func (s *Service) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain cache writes: %w", ctx.Err())
	}
}
