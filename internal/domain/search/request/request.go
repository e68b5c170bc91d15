package request

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
	"github.com/kailas-cloud/catalogsearch/internal/domain/namespace"
	"github.com/kailas-cloud/catalogsearch/internal/domain/record"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength = 4096
	DefaultTopK    = 5
	MaxTopK        = 100
)

// Limits overrides the package defaults. Zero fields fall back to them.
type Limits struct {
	DefaultTopK int
	MaxTopK     int
}

// Request is a validated search query.
type Request struct {
	query      string
	scope      namespace.Scope
	locationID string
	topK       int
}

// New validates and normalizes search parameters.
// Defaults: scope=all, topK=5.
func New(query string, scope namespace.Scope, locationID string, topK int, lim Limits) (Request, error) {
	if lim.DefaultTopK <= 0 {
		lim.DefaultTopK = DefaultTopK
	}
	if lim.MaxTopK <= 0 {
		lim.MaxTopK = MaxTopK
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return Request{}, fmt.Errorf("%w: query is required", domain.ErrValidation)
	}
	if len(query) > MaxQueryLength {
		return Request{}, fmt.Errorf("%w: query too long (max %d chars)", domain.ErrValidation, MaxQueryLength)
	}
	if scope == "" {
		scope = namespace.All
	}
	if _, err := namespace.ParseScope(string(scope)); err != nil {
		return Request{}, err
	}
	if err := record.ValidateLocation(locationID); err != nil {
		return Request{}, err
	}
	if topK == 0 {
		topK = lim.DefaultTopK
	}
	if topK < 1 || topK > lim.MaxTopK {
		return Request{}, fmt.Errorf("%w: top_k must be between 1 and %d", domain.ErrValidation, lim.MaxTopK)
	}

	return Request{
		query:      query,
		scope:      scope,
		locationID: strings.TrimSpace(locationID),
		topK:       topK,
	}, nil
}

// Query returns the search query text.
func (r *Request) Query() string { return r.query }

// Scope returns the record type scope (or all).
func (r *Request) Scope() namespace.Scope { return r.scope }

// LocationID returns the optional product location.
func (r *Request) LocationID() string { return r.locationID }

// TopK returns the number of matches requested from each namespace.
func (r *Request) TopK() int { return r.topK }

// Namespaces returns the ordered namespaces this request fans out to.
func (r *Request) Namespaces() []string {
	return namespace.Targets(r.scope, r.locationID)
}
