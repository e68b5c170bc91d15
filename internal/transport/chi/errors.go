package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
	"github.com/kailas-cloud/catalogsearch/internal/logger"
)

// Error codes in the JSON error body.
const (
	codeBadRequest        = "bad_request"
	codeValidationFailed  = "validation_failed"
	codeUnknownType       = "unknown_type"
	codeNotFound          = "not_found"
	codeEmbeddingFailed   = "embedding_failed"
	codeEmbeddingProvider = "embedding_provider_error"
	codeVectorDimMismatch = "vector_dim_mismatch"
	codeUpstream          = "upstream_error"
	codeIngestBusy        = "ingest_busy"
	codeUnauthorized      = "unauthorized"
	codeInternal          = "internal_error"
)

const internalMessage = "An unexpected error occurred"

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// errorHandlers is checked in order after validation errors.
var errorHandlers = []errorHandler{
	sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
	sentinelHandler(domain.ErrIngestBusy, http.StatusServiceUnavailable, codeIngestBusy),
	sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadGateway, codeVectorDimMismatch),
	sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProvider),
	sentinelHandler(domain.ErrEmbedding, http.StatusBadGateway, codeEmbeddingFailed),
	sentinelHandler(domain.ErrUpstream, http.StatusBadGateway, codeUpstream),
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
// The client sees the sentinel text only.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

// validationMessage keeps the detail of a validation error, which only ever
// describes the caller's own input.
func validationMessage(err error) string {
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrUnknownType) {
		return err.Error()
	}
	return ""
}

func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	if msg := validationMessage(err); msg != "" {
		log.Info("Request rejected", zap.Error(err))
		code := codeValidationFailed
		if errors.Is(err, domain.ErrUnknownType) {
			code = codeUnknownType
		}
		writeError(w, http.StatusBadRequest, code, msg)
		return
	}

	for _, h := range errorHandlers {
		if h(w, err) {
			log.Warn("Domain error", zap.Error(err))
			return
		}
	}
	log.Error("Internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, internalMessage)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Status: "error", Code: code, Message: message})
}
