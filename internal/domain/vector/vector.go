package vector

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
)

// Vector is an embedded record ready for upsert.
type Vector struct {
	id       string
	values   []float32
	metadata map[string]any
}

// New validates and creates a Vector. dim <= 0 skips the dimension check.
func New(id string, values []float32, metadata map[string]any, dim int) (Vector, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Vector{}, fmt.Errorf("%w: vector id is required", domain.ErrValidation)
	}
	if len(values) == 0 {
		return Vector{}, fmt.Errorf("%w: vector values are empty", domain.ErrValidation)
	}
	if dim > 0 && len(values) != dim {
		return Vector{}, fmt.Errorf("%w: got %d, want %d", domain.ErrVectorDimMismatch, len(values), dim)
	}
	return Vector{id: id, values: values, metadata: metadata}, nil
}

// ID returns the vector identifier.
func (v *Vector) ID() string { return v.id }

// Values returns the embedding.
func (v *Vector) Values() []float32 { return v.values }

// Metadata returns the flattened metadata.
func (v *Vector) Metadata() map[string]any { return v.metadata }
