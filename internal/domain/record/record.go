package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
)

// Type is the catalog object type of a record.
type Type string

// Record type constants.
const (
	Products Type = "products"
	Blogs    Type = "blogs"
	Stores   Type = "stores"
)

// IsValid checks if the type is one of the supported values.
func (t Type) IsValid() bool {
	return t == Products || t == Blogs || t == Stores
}

// StoreType is the licence flavour carried in every record's "type" field.
type StoreType string

// Store type constants.
const (
	Recreational StoreType = "recreational"
	Medical      StoreType = "medical"
	Both         StoreType = "both"
)

// IsValid checks if the store type is one of the supported values.
func (s StoreType) IsValid() bool {
	return s == Recreational || s == Medical || s == Both
}

// KeySeparator splits the namespace from the id in storage keys, so it may
// not appear inside a location id.
const KeySeparator = ":"

// ValidateLocation rejects location ids that would leak into another
// namespace's key range.
func ValidateLocation(locationID string) error {
	if strings.Contains(locationID, KeySeparator) {
		return fmt.Errorf("%w: location_id must not contain %q", domain.ErrValidation, KeySeparator)
	}
	return nil
}

// identityKeys lists the fields tried, in order, to derive a record id.
// The priority is inherited from the upstream catalog feeds.
var identityKeys = []string{"id", "databaseId", "zip"}

// Record is a request-scoped catalog record (immutable value object).
type Record struct {
	typ        Type
	locationID string
	fields     map[string]any
	id         string
}

// New validates and creates a Record.
// fallbackID is used only when the fields carry no id, databaseId or zip.
func New(t Type, locationID string, fields map[string]any, fallbackID string) (Record, error) {
	if !t.IsValid() {
		return Record{}, fmt.Errorf("%w: %q", domain.ErrUnknownType, t)
	}
	if len(fields) == 0 {
		return Record{}, fmt.Errorf("%w: metadata is required", domain.ErrValidation)
	}
	if err := ValidateLocation(locationID); err != nil {
		return Record{}, err
	}

	st, _ := fields["type"].(string)
	if st == "" {
		return Record{}, fmt.Errorf("%w: metadata.type is required", domain.ErrValidation)
	}
	if !StoreType(st).IsValid() {
		return Record{}, fmt.Errorf(
			"%w: metadata.type must be recreational, medical or both, got %q", domain.ErrValidation, st,
		)
	}

	id, ok := ResolveID(fields)
	if !ok {
		id = strings.TrimSpace(fallbackID)
	}
	if id == "" {
		return Record{}, fmt.Errorf("%w: record has no id, databaseId or zip", domain.ErrValidation)
	}

	return Record{
		typ:        t,
		locationID: strings.TrimSpace(locationID),
		fields:     cloneFields(fields),
		id:         id,
	}, nil
}

// Reconstruct creates a Record without validation (CLI loaders, tests).
func Reconstruct(t Type, locationID, id string, fields map[string]any) Record {
	return Record{typ: t, locationID: locationID, fields: fields, id: id}
}

// Type returns the catalog object type.
func (r *Record) Type() Type { return r.typ }

// LocationID returns the optional store location scope.
func (r *Record) LocationID() string { return r.locationID }

// Fields returns the open metadata map.
func (r *Record) Fields() map[string]any { return r.fields }

// ID returns the resolved identity.
func (r *Record) ID() string { return r.id }

// ResolveID returns the first present, non-null identity value rendered as a string.
func ResolveID(fields map[string]any) (string, bool) {
	for _, k := range identityKeys {
		v, ok := fields[k]
		if !ok || v == nil {
			continue
		}
		if s, ok := idString(v); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func idString(v any) (string, bool) {
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
	default:
		// nested maps and lists are not usable as identities
		return "", false
	}
}

func cloneFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
