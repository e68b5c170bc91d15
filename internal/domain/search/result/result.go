package result

// Match is a single search hit.
type Match struct {
	id        string
	score     float64
	metadata  map[string]any
	namespace string
}

// New creates a search match.
func New(id string, score float64, metadata map[string]any, namespace string) Match {
	return Match{id: id, score: score, metadata: metadata, namespace: namespace}
}

// ID returns the record identifier.
func (m *Match) ID() string { return m.id }

// Score returns the similarity in [0, 1].
func (m *Match) Score() float64 { return m.score }

// Metadata returns the sanitized record metadata.
func (m *Match) Metadata() map[string]any { return m.metadata }

// Namespace returns the namespace the match was found in.
// Empty for matches restored from the semantic cache.
func (m *Match) Namespace() string { return m.namespace }
