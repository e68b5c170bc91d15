// Package index implements vector index administration: stats and deletes.
package index

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
	"github.com/kailas-cloud/catalogsearch/internal/domain/namespace"
)

// MaxDeleteIDs caps a single delete-by-ids call.
const MaxDeleteIDs = 1000

// Stats holds per-namespace vector counts.
type Stats struct {
	Total      int
	Namespaces map[string]int
	// Order lists namespaces as requested, for stable rendering.
	Order []string
}

// Service handles index administration.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// New creates an index admin service.
func New(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Stats counts vectors in the given namespaces. An empty list means the default set.
func (s *Service) Stats(ctx context.Context, namespaces []string) (Stats, error) {
	nss := dedupe(namespaces)
	if len(nss) == 0 {
		nss = namespace.Defaults()
	}

	for _, ns := range nss {
		if err := namespace.Validate(ns); err != nil {
			return Stats{}, err
		}
	}

	st := Stats{Namespaces: make(map[string]int, len(nss)), Order: nss}
	for _, ns := range nss {
		n, err := s.repo.Count(ctx, ns)
		if err != nil {
			return Stats{}, fmt.Errorf("count %s: %w: %w", ns, domain.ErrUpstream, err)
		}
		st.Namespaces[ns] = n
		st.Total += n
	}
	return st, nil
}

// DeleteVectors removes vectors by id from one namespace and returns the deleted count.
func (s *Service) DeleteVectors(ctx context.Context, ns string, ids []string) (int, error) {
	ns = strings.TrimSpace(ns)
	if err := namespace.Validate(ns); err != nil {
		return 0, err
	}
	clean := dedupe(ids)
	if len(clean) == 0 {
		return 0, fmt.Errorf("%w: ids must not be empty", domain.ErrValidation)
	}
	if len(clean) > MaxDeleteIDs {
		return 0, fmt.Errorf("%w: at most %d ids per call", domain.ErrValidation, MaxDeleteIDs)
	}

	n, err := s.repo.Delete(ctx, ns, clean)
	if err != nil {
		return 0, fmt.Errorf("delete vectors: %w: %w", domain.ErrUpstream, err)
	}
	s.logger.Info("Vectors deleted", zap.String("namespace", ns), zap.Int("requested", len(clean)), zap.Int("deleted", n))
	return n, nil
}

// DeleteNamespace removes every vector in a namespace.
func (s *Service) DeleteNamespace(ctx context.Context, ns string) (int, error) {
	ns = strings.TrimSpace(ns)
	if err := namespace.Validate(ns); err != nil {
		return 0, err
	}
	n, err := s.repo.DeleteNamespace(ctx, ns)
	if err != nil {
		return 0, fmt.Errorf("delete namespace: %w: %w", domain.ErrUpstream, err)
	}
	s.logger.Info("Namespace purged", zap.String("namespace", ns), zap.Int("deleted", n))
	return n, nil
}

// DeleteAll removes every vector in the index.
func (s *Service) DeleteAll(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete all: %w: %w", domain.ErrUpstream, err)
	}
	s.logger.Warn("Index purged", zap.Int("deleted", n))
	return n, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
