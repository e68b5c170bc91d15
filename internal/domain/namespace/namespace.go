package namespace

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
	"github.com/kailas-cloud/catalogsearch/internal/domain/record"
)

// orphan scopes products that were ingested without a location.
const orphan = "orphan"

// Scope is the search target: a single record type or all of them.
type Scope string

// All searches products, blogs and stores together.
const All Scope = "all"

// ParseScope maps an optional request value onto a Scope. Empty means All.
func ParseScope(s string) (Scope, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return All, nil
	}
	sc := Scope(s)
	if sc == All || record.Type(sc).IsValid() {
		return sc, nil
	}
	return "", fmt.Errorf("%w: namespace must be products, blogs, stores or all, got %q", domain.ErrValidation, s)
}

// Route returns the vector index namespace for a record type.
// Products are partitioned by location; blogs and stores are global.
func Route(t record.Type, locationID string) string {
	if t == record.Products {
		loc := strings.TrimSpace(locationID)
		if loc == "" {
			loc = orphan
		}
		return loc + "-" + string(record.Products)
	}
	return string(t)
}

// Validate checks a namespace name supplied from outside (admin calls, CLI).
func Validate(ns string) error {
	if strings.TrimSpace(ns) == "" {
		return fmt.Errorf("%w: namespace is required", domain.ErrValidation)
	}
	if strings.Contains(ns, record.KeySeparator) {
		return fmt.Errorf("%w: namespace must not contain %q", domain.ErrValidation, record.KeySeparator)
	}
	return nil
}

// Kind reports the record type a namespace holds. Location-scoped product
// namespaces all collapse to "products", which keeps metric labels bounded.
func Kind(ns string) string {
	switch {
	case ns == string(record.Blogs), ns == string(record.Stores):
		return ns
	case strings.HasSuffix(ns, "-"+string(record.Products)):
		return string(record.Products)
	default:
		return "other"
	}
}

// Targets expands a search scope into the ordered namespace list to query.
// The order is the merge tie-break order.
func Targets(sc Scope, locationID string) []string {
	if sc == All {
		return []string{
			Route(record.Products, locationID),
			Route(record.Blogs, locationID),
			Route(record.Stores, locationID),
		}
	}
	return []string{Route(record.Type(sc), locationID)}
}

// Defaults lists the namespaces reported when no explicit set is requested.
func Defaults() []string {
	return Targets(All, "")
}
