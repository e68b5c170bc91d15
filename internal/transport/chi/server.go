// Package chi exposes the catalog search HTTP API on a chi router.
package chi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
	"github.com/kailas-cloud/catalogsearch/internal/domain/namespace"
	"github.com/kailas-cloud/catalogsearch/internal/domain/record"
	"github.com/kailas-cloud/catalogsearch/internal/domain/search/request"
	"github.com/kailas-cloud/catalogsearch/internal/metrics"
	cacheuc "github.com/kailas-cloud/catalogsearch/internal/usecase/cache"
	healthuc "github.com/kailas-cloud/catalogsearch/internal/usecase/health"
	indexuc "github.com/kailas-cloud/catalogsearch/internal/usecase/index"
	ingestuc "github.com/kailas-cloud/catalogsearch/internal/usecase/ingest"
	searchuc "github.com/kailas-cloud/catalogsearch/internal/usecase/search"
)

// maxBodyBytes caps request bodies; batch ingest carries up to 10k records.
const maxBodyBytes = 64 << 20

// Options carries transport-level settings.
type Options struct {
	Limits  request.Limits
	APIKeys []string
}

// Server holds the HTTP handlers.
type Server struct {
	ingest *ingestuc.Service
	search *searchuc.Service
	index  *indexuc.Service
	cache  *cacheuc.Service
	health *healthuc.Service
	opts   Options
	logger *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(
	ingest *ingestuc.Service,
	search *searchuc.Service,
	index *indexuc.Service,
	cache *cacheuc.Service,
	health *healthuc.Service,
	opts Options,
	logger *zap.Logger,
) *Server {
	return &Server{
		ingest: ingest,
		search: search,
		index:  index,
		cache:  cache,
		health: health,
		opts:   opts,
		logger: logger,
	}
}

// Router builds the chi router with the middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(JSONRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEventMiddleware(s.logger))
	r.Use(metrics.Middleware())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})

	r.Get("/", s.Root)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Post("/ingest", s.Ingest)
	r.Post("/batch-ingest", s.BatchIngest)
	r.Post("/search", s.Search)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(s.opts.APIKeys))
		r.Get("/index/stats", s.IndexStats)
		r.Delete("/index/vectors", s.DeleteVectors)
		r.Delete("/index/namespaces/{namespace}", s.DeleteNamespace)
		r.Delete("/index", s.DeleteAll)
		r.Delete("/cache/entries/{id}", s.DeleteCacheEntry)
		r.Delete("/cache/entries", s.FlushCache)
	})
	return r
}

// Root handles GET /.
func (s *Server) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "server running"})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// Ingest handles POST /ingest.
func (s *Server) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	res, err := s.ingest.Ingest(ctx, ingestuc.Request{
		Type:       record.Type(req.Type),
		LocationID: req.LocationID,
		ID:         req.ID,
		Metadata:   req.Metadata,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	setEmbeddingHeaders(w, usage)
	w.Header().Set("X-Namespace", res.Namespace)
	writeJSON(w, http.StatusOK, statusResponse{
		Status:  "success",
		Message: fmt.Sprintf("%s ingested successfully", req.Type),
	})
}

// BatchIngest handles POST /batch-ingest. The job runs after the response.
func (s *Server) BatchIngest(w http.ResponseWriter, r *http.Request) {
	var req batchIngestRequest
	if !decodeBody(w, r, &req) {
		return
	}

	jobID, err := s.ingest.Submit(r.Context(), ingestuc.Job{
		Type:       record.Type(req.Type),
		LocationID: req.LocationID,
		Records:    req.Metadata,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	w.Header().Set("X-Job-ID", jobID)
	writeJSON(w, http.StatusOK, statusResponse{
		Status: "success",
		Message: fmt.Sprintf("Batch ingestion of %d %s documents started in background (job %s)",
			len(req.Metadata), req.Type, jobID),
	})
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	scope, err := namespace.ParseScope(req.Namespace)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	sreq, err := request.New(req.Query, scope, req.LocationID, req.TopK, s.opts.Limits)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	resp, err := s.search.Search(ctx, &sreq)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	setEmbeddingHeaders(w, usage)
	if resp.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Results:        matchesToDTO(resp.Results),
		QueryRewritten: resp.QueryRewritten,
		TotalResults:   resp.TotalResults(),
	})
}

// IndexStats handles GET /index/stats.
func (s *Server) IndexStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.index.Stats(r.Context(), r.URL.Query()["namespace"])
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Total: st.Total, Namespaces: st.Namespaces})
}

// DeleteVectors handles DELETE /index/vectors.
func (s *Server) DeleteVectors(w http.ResponseWriter, r *http.Request) {
	var req deleteVectorsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := s.index.DeleteVectors(r.Context(), req.Namespace, req.IDs)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

// DeleteNamespace handles DELETE /index/namespaces/{namespace}.
func (s *Server) DeleteNamespace(w http.ResponseWriter, r *http.Request) {
	n, err := s.index.DeleteNamespace(r.Context(), chi.URLParam(r, "namespace"))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

// DeleteAll handles DELETE /index.
func (s *Server) DeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.index.DeleteAll(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletedResponse{Deleted: n})
}

// DeleteCacheEntry handles DELETE /cache/entries/{id}.
func (s *Server) DeleteCacheEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FlushCache handles DELETE /cache/entries.
func (s *Server) FlushCache(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Flush(r.Context()); err != nil {
		handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody decodes a JSON body keeping numbers as json.Number.
// Writes a 400 and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage != nil && usage.Used {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.TotalTokens))
	}
}
