package db

import (
	"strings"
	"testing"
)

func TestIndexBuilder_CatalogIndex(t *testing.T) {
	idx := NewIndex("catalog:vec:idx").
		Prefix("catalog:vec:").
		TagWithOpts("__namespace", "|", true).
		VectorHNSW("__vector", 3072, DistanceCosine, 32, 400).As("vector").
		MustBuild()

	if idx.StorageType != StorageHash {
		t.Errorf("storage = %q, want HASH", idx.StorageType)
	}
	if len(idx.Fields) != 2 {
		t.Fatalf("fields count = %d, want 2", len(idx.Fields))
	}
	tag := idx.Fields[0]
	if tag.Type != IndexFieldTag || tag.TagSeparator != "|" || !tag.TagCaseSensitive {
		t.Errorf("field[0] = %+v, want case-sensitive TAG with | separator", tag)
	}
	vec := idx.Fields[1]
	if vec.Alias != "vector" {
		t.Errorf("alias = %q, want vector", vec.Alias)
	}
	if vec.VectorAlgo != VectorHNSW || vec.VectorDim != 3072 || vec.VectorM != 32 || vec.VectorEFConstruct != 400 {
		t.Errorf("vector field = %+v", vec)
	}
}

func TestIndexBuilder_VectorFlat(t *testing.T) {
	idx := NewIndex("vec-idx").
		Prefix("emb:").
		VectorFlat("embedding", 1536, DistanceIP, 0).
		MustBuild()

	f := idx.Fields[0]
	if f.VectorAlgo != VectorFlat {
		t.Errorf("algo = %q, want FLAT", f.VectorAlgo)
	}
	if f.VectorDistance != DistanceIP {
		t.Errorf("distance = %q, want IP", f.VectorDistance)
	}
}

func TestIndexBuilder_AsWithoutFields(t *testing.T) {
	// no field to alias: As is a no-op and Build reports the missing fields
	_, err := NewIndex("idx").As("x").Build()
	if err == nil || !strings.Contains(err.Error(), "at least one field") {
		t.Fatalf("expected missing-field error, got %v", err)
	}
}

func TestIndexBuilder_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		builder func() (*IndexDefinition, error)
		wantErr string
	}{
		{
			name: "empty name",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("").Tag("x").Build()
			},
			wantErr: "index name is required",
		},
		{
			name: "no fields",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx").Build()
			},
			wantErr: "at least one field",
		},
		{
			name: "vector without dim",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx").VectorFlat("v", 0, DistanceCosine, 0).Build()
			},
			wantErr: "positive DIM",
		},
		{
			name: "invalid characters",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx with spaces").Tag("x").Build()
			},
			wantErr: "invalid characters",
		},
		{
			name: "duplicate alias",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx").Tag("a").As("v").Tag("b").As("v").Build()
			},
			wantErr: "duplicate field name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got error %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestIndexDefinition_String(t *testing.T) {
	idx := NewIndex("my-idx").
		Prefix("doc:").
		Tag("cat").
		VectorHNSW("__vector", 512, DistanceCosine, 0, 0).As("vector").
		MustBuild()

	want := "FT.CREATE my-idx ON HASH PREFIX doc: SCHEMA cat TAG __vector AS vector VECTOR HNSW"
	if s := idx.String(); s != want {
		t.Errorf("String() = %q, want %q", s, want)
	}
}

func TestParseDistance(t *testing.T) {
	for in, want := range map[string]DistanceMetric{"": DistanceCosine, "cosine": DistanceCosine, "ip": DistanceIP} {
		got, err := ParseDistance(in)
		if err != nil || got != want {
			t.Errorf("ParseDistance(%q) = (%q, %v), want %q", in, got, err, want)
		}
	}
	if _, err := ParseDistance("l2"); err == nil {
		t.Error("expected error for l2")
	}
}

func TestParseAlgorithm(t *testing.T) {
	for in, want := range map[string]VectorAlgorithm{"": VectorHNSW, "hnsw": VectorHNSW, "FLAT": VectorFlat} {
		got, err := ParseAlgorithm(in)
		if err != nil || got != want {
			t.Errorf("ParseAlgorithm(%q) = (%q, %v), want %q", in, got, err, want)
		}
	}
	if _, err := ParseAlgorithm("ivf"); err == nil {
		t.Error("expected error for ivf")
	}
}

func TestError_Unwrap(t *testing.T) {
	e := &Error{Op: OpSearch, Err: ErrIndexNotFound}
	if e.Error() != "FT.SEARCH: db: index not found" {
		t.Errorf("Error() = %q", e.Error())
	}
	if e.Unwrap() != ErrIndexNotFound {
		t.Error("Unwrap should return the wrapped error")
	}
}
