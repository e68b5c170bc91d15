package chi

import (
	"github.com/kailas-cloud/catalogsearch/internal/domain/search/result"
)

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ingestRequest struct {
	LocationID string         `json:"location_id"`
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Metadata   map[string]any `json:"metadata"`
}

type batchIngestRequest struct {
	LocationID string           `json:"location_id"`
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Metadata   []map[string]any `json:"metadata"`
}

type searchRequest struct {
	Query      string `json:"query"`
	TopK       int    `json:"top_k"`
	LocationID string `json:"location_id"`
	Namespace  string `json:"namespace"`
}

type searchMatch struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

type searchResponse struct {
	Results        []searchMatch `json:"results"`
	QueryRewritten *string       `json:"query_rewritten"`
	TotalResults   int           `json:"total_results"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type statsResponse struct {
	Total      int            `json:"total"`
	Namespaces map[string]int `json:"namespaces"`
}

type deleteVectorsRequest struct {
	Namespace string   `json:"namespace"`
	IDs       []string `json:"ids"`
}

type deletedResponse struct {
	Deleted int `json:"deleted"`
}

func matchesToDTO(ms []result.Match) []searchMatch {
	out := make([]searchMatch, len(ms))
	for i := range ms {
		md := ms[i].Metadata()
		if md == nil {
			md = map[string]any{}
		}
		out[i] = searchMatch{ID: ms[i].ID(), Metadata: md, Score: ms[i].Score()}
	}
	return out
}
