// Package synth renders catalog records into the descriptive text that is
// sent to the embedding provider.
package synth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
	"github.com/kailas-cloud/catalogsearch/internal/domain/record"
)

// minIDDigits drops numeric strings at or above this length from the values
// string; they are internal ids and only add noise to the embedding.
const minIDDigits = 5

// Synthesize returns description + " " + values for a record. Pure.
func Synthesize(rec record.Record) (string, error) {
	var desc string
	switch rec.Type() {
	case record.Products:
		desc = product(rec.Fields())
	case record.Blogs:
		desc = blog(rec.Fields())
	case record.Stores:
		desc = store(rec.Fields())
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownType, rec.Type())
	}
	return strings.TrimSpace(desc + " " + Values(rec.Fields())), nil
}

// Values collects every non-empty scalar leaf of v, depth first, with map
// keys visited in sorted order.
func Values(v any) string {
	var parts []string
	collect(&parts, v)
	return strings.Join(parts, " ")
}

func collect(parts *[]string, v any) {
	switch x := v.(type) {
	case nil:
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collect(parts, x[k])
		}
	case []any:
		for _, e := range x {
			collect(parts, e)
		}
	case []string:
		for _, e := range x {
			collect(parts, e)
		}
	default:
		s, ok := scalarText(x)
		if !ok || s == "" {
			return
		}
		if len(s) >= minIDDigits && isDigits(s) {
			return
		}
		*parts = append(*parts, s)
	}
}

// scalarText renders a leaf value. ok is false for values with no text form.
func scalarText(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x), true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	case fmt.Stringer:
		return strings.TrimSpace(x.String()), true
	default:
		return "", false
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// lookup drills into nested maps. Returns nil when any step is missing.
func lookup(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = mm[k]
		if cur == nil {
			return nil
		}
	}
	return cur
}

// str returns the text form of a non-empty scalar, or "" for anything empty
// or composite.
func str(v any) string {
	s, ok := scalarText(v)
	if !ok {
		return ""
	}
	return s
}

// first returns the first element of a non-empty list, or v itself.
func first(v any) any {
	if l, ok := v.([]any); ok {
		if len(l) == 0 {
			return nil
		}
		return l[0]
	}
	return v
}

func sentence(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ". ") + "."
}
