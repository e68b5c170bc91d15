package domain

import "errors"

var (
	// ErrValidation signals a malformed request or record.
	ErrValidation = errors.New("validation failed")
	// ErrUnknownType signals a record type outside products/blogs/stores.
	ErrUnknownType = errors.New("unknown record type")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")

	// ErrEmbedding signals that text could not be turned into a vector.
	ErrEmbedding = errors.New("embedding failed")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrUpstream signals a vector store or cache backend failure.
	ErrUpstream = errors.New("upstream service error")

	// ErrIngestBusy signals that the background ingest pool is saturated.
	ErrIngestBusy = errors.New("ingest queue is full")
)
