// Package cache is the best-effort semantic response cache in front of search.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
	"github.com/kailas-cloud/catalogsearch/internal/domain/metadata"
	"github.com/kailas-cloud/catalogsearch/internal/domain/search/result"
	"github.com/kailas-cloud/catalogsearch/internal/metrics"
)

// Driver names.
const (
	DriverLangCache = "langcache"
	DriverRedis     = "redis"
	DriverNone      = "none"
)

// Defaults.
const (
	DefaultThreshold = 0.9
	DefaultTTL       = time.Hour
)

// Config tunes lookups and writes.
type Config struct {
	Driver    string
	Threshold float64
	TTL       time.Duration
}

// Service wraps a Backend. Get and Set never fail: backend errors are
// logged and degrade to a miss or a no-op.
type Service struct {
	backend   Backend
	driver    string
	threshold float64
	ttl       time.Duration
	logger    *zap.Logger
}

// New creates a cache service. A nil backend disables caching.
func New(b Backend, cfg Config, logger *zap.Logger) *Service {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	driver := cfg.Driver
	if b == nil {
		driver = DriverNone
	}
	return &Service{backend: b, driver: driver, threshold: cfg.Threshold, ttl: cfg.TTL, logger: logger}
}

// Enabled reports whether a backend is configured.
func (s *Service) Enabled() bool { return s.backend != nil }

// Driver returns the configured backend name.
func (s *Service) Driver() string { return s.driver }

// entry is the cached wire form of a match.
type entry struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

// Get returns the cached matches for a query. An empty cached list is a miss.
func (s *Service) Get(ctx context.Context, query string) ([]result.Match, bool) {
	if s.backend == nil {
		return nil, false
	}

	hit, ok, err := s.backend.Search(ctx, query, s.threshold)
	if err != nil {
		s.count("error")
		s.logger.Warn("Semantic cache lookup failed", zap.String("driver", s.driver), zap.Error(err))
		return nil, false
	}
	if !ok {
		s.count("miss")
		return nil, false
	}

	matches, err := decode(hit.Response)
	if err != nil {
		s.count("error")
		s.logger.Warn("Semantic cache entry is corrupt",
			zap.String("driver", s.driver), zap.String("entry_id", hit.ID), zap.Error(err))
		return nil, false
	}
	if len(matches) == 0 {
		s.count("miss")
		return nil, false
	}

	s.count("hit")
	s.logger.Debug("Semantic cache hit",
		zap.String("entry_id", hit.ID), zap.Float64("similarity", hit.Similarity), zap.Int("results", len(matches)))
	return matches, true
}

// Set stores matches for a query.
func (s *Service) Set(ctx context.Context, query string, matches []result.Match) {
	if s.backend == nil {
		return
	}

	payload, err := encode(matches)
	if err != nil {
		s.logger.Warn("Failed to serialize search results for cache", zap.Error(err))
		return
	}
	if err := s.backend.Store(ctx, query, payload, s.ttl); err != nil {
		s.logger.Warn("Semantic cache write failed", zap.String("driver", s.driver), zap.Error(err))
	}
}

// Delete removes one entry.
func (s *Service) Delete(ctx context.Context, id string) error {
	if s.backend == nil {
		return fmt.Errorf("cache entry %s: %w", id, domain.ErrNotFound)
	}
	if err := s.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Flush removes every entry.
func (s *Service) Flush(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.Flush(ctx); err != nil {
		return fmt.Errorf("flush cache: %w", err)
	}
	return nil
}

func (s *Service) count(res string) {
	metrics.SemanticCacheTotal.WithLabelValues(s.driver, res).Inc()
}

func encode(matches []result.Match) (string, error) {
	list := make([]entry, len(matches))
	for i := range matches {
		m := &matches[i]
		list[i] = entry{ID: m.ID(), Metadata: m.Metadata(), Score: m.Score()}
	}
	buf, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("encode matches: %w", err)
	}
	return string(buf), nil
}

func decode(payload string) ([]result.Match, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()
	var list []entry
	if err := dec.Decode(&list); err != nil {
		return nil, fmt.Errorf("decode matches: %w", err)
	}
	out := make([]result.Match, 0, len(list))
	for _, e := range list {
		out = append(out, result.New(e.ID, e.Score, metadata.Sanitize(e.Metadata, ""), ""))
	}
	return out, nil
}
