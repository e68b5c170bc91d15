package domain

// CacheHit is a semantic cache lookup result.
// Response is the serialized payload stored by the writer, opaque to backends.
type CacheHit struct {
	ID         string
	Prompt     string
	Response   string
	Similarity float64
}
