package chi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
)

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rr := env.do("GET", "/", "")

	var body statusResponse
	decodeJSON(t, rr, &body)
	if rr.Code != http.StatusOK || body.Status != "server running" {
		t.Errorf("got %d %+v", rr.Code, body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rr := env.do("GET", "/health", "")
	var body healthResponse
	decodeJSON(t, rr, &body)
	if rr.Code != http.StatusOK || body.Status != "ok" || body.Checks["database"] != "ok" {
		t.Errorf("got %d %+v", rr.Code, body)
	}

	down := newTestEnv(t, envOptions{dbErr: errBoom})
	rr = down.do("GET", "/health", "")
	decodeJSON(t, rr, &body)
	if rr.Code != http.StatusServiceUnavailable || body.Status != "degraded" {
		t.Errorf("got %d %+v", rr.Code, body)
	}
}

func TestIngest_Product(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rr := env.do("POST", "/ingest",
		`{"type":"products","location_id":"lv","metadata":{"type":"recreational","id":42,"name":"Blue Dream"}}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body statusResponse
	decodeJSON(t, rr, &body)
	if body.Status != "success" || body.Message != "products ingested successfully" {
		t.Errorf("unexpected body %+v", body)
	}
	if rr.Header().Get("X-Namespace") != "lv-products" {
		t.Errorf("expected lv-products namespace, got %q", rr.Header().Get("X-Namespace"))
	}
	if rr.Header().Get("X-Embedding-Tokens") != "3" {
		t.Errorf("expected 3 tokens, got %q", rr.Header().Get("X-Embedding-Tokens"))
	}
	if _, ok := env.index.data["lv-products"]["42"]; !ok {
		t.Error("expected vector 42 in lv-products")
	}
}

func TestIngest_Errors(t *testing.T) {
	tests := []struct {
		name     string
		opts     envOptions
		body     string
		wantCode int
		wantErr  string
	}{
		{"bad json", envOptions{}, `{`, http.StatusBadRequest, codeBadRequest},
		{"unknown type", envOptions{}, `{"type":"coupons","metadata":{"type":"both","id":"1"}}`,
			http.StatusBadRequest, codeUnknownType},
		{"missing store type", envOptions{}, `{"type":"blogs","metadata":{"id":"1"}}`,
			http.StatusBadRequest, codeValidationFailed},
		{"location with separator", envOptions{},
			`{"type":"products","location_id":"blogs:7","metadata":{"type":"both","id":"p1","name":"x"}}`,
			http.StatusBadRequest, codeValidationFailed},
		{"provider down", envOptions{embedErr: domain.ErrEmbeddingProviderError},
			`{"type":"blogs","metadata":{"type":"both","id":"1","title":"t"}}`,
			http.StatusBadGateway, codeEmbeddingProvider},
		{"unexpected", envOptions{embedErr: errBoom},
			`{"type":"blogs","metadata":{"type":"both","id":"1","title":"t"}}`,
			http.StatusInternalServerError, codeInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, tc.opts)
			rr := env.do("POST", "/ingest", tc.body)
			if rr.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, rr.Code, rr.Body.String())
			}
			var body errorResponse
			decodeJSON(t, rr, &body)
			if body.Status != "error" || body.Code != tc.wantErr {
				t.Errorf("unexpected error body %+v", body)
			}
		})
	}
}

func TestIngest_InternalErrorHidesDetails(t *testing.T) {
	env := newTestEnv(t, envOptions{embedErr: errBoom})
	rr := env.do("POST", "/ingest", `{"type":"stores","metadata":{"type":"both","zip":"89101"}}`)

	var body errorResponse
	decodeJSON(t, rr, &body)
	if body.Message != internalMessage {
		t.Errorf("expected generic message, got %q", body.Message)
	}
}

func TestBatchIngest(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rr := env.do("POST", "/batch-ingest", `{"type":"blogs","metadata":[
		{"type":"both","id":"b1","title":"One"},
		{"type":"both","id":"b2","title":"Two"},
		{"type":"both","id":"b3","title":"Three"}]}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Job-ID") == "" {
		t.Error("expected X-Job-ID header")
	}

	deadline := time.After(5 * time.Second)
	for seen := 0; seen < 3; {
		select {
		case <-env.index.upserted:
			seen++
		case <-deadline:
			t.Fatalf("background job upserted %d of 3 records", seen)
		}
	}
}

func TestBatchIngest_Limits(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	for _, body := range []string{
		`{"type":"blogs","metadata":[]}`,
		`{"type":"blogs","metadata":[{},{},{},{},{},{}]}`,
	} {
		rr := env.do("POST", "/batch-ingest", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.do("POST", "/ingest", `{"type":"blogs","metadata":{"type":"both","id":"b1","title":"Terpenes"}}`)

	rr := env.do("POST", "/search", `{"query":"terpenes","namespace":"blogs"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Results []struct {
			ID       string         `json:"id"`
			Metadata map[string]any `json:"metadata"`
			Score    float64        `json:"score"`
		} `json:"results"`
		QueryRewritten *string `json:"query_rewritten"`
		TotalResults   int     `json:"total_results"`
	}
	decodeJSON(t, rr, &body)
	if body.TotalResults != 1 || len(body.Results) != 1 || body.Results[0].ID != "b1" {
		t.Fatalf("unexpected results %+v", body)
	}
	if body.Results[0].Metadata["title"] != "Terpenes" {
		t.Errorf("expected metadata title, got %v", body.Results[0].Metadata)
	}
	if body.QueryRewritten != nil {
		t.Error("expected null query_rewritten")
	}
	if rr.Header().Get("X-Cache") != "MISS" {
		t.Errorf("expected cache MISS, got %q", rr.Header().Get("X-Cache"))
	}
	if rr.Header().Get("X-Embedding-Tokens") != "3" {
		t.Errorf("expected 3 tokens, got %q", rr.Header().Get("X-Embedding-Tokens"))
	}
}

func TestSearch_EmptyResultsIsArray(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rr := env.do("POST", "/search", `{"query":"nothing"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var raw map[string]json.RawMessage
	decodeJSON(t, rr, &raw)
	if string(raw["results"]) != "[]" {
		t.Errorf("expected [], got %s", raw["results"])
	}
}

func TestSearch_Validation(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	for _, body := range []string{
		`{"query":"  "}`,
		`{"query":"x","top_k":21}`,
		`{"query":"x","top_k":-1}`,
		`{"query":"x","namespace":"coupons"}`,
		`{"query":"x","location_id":"blogs:7"}`,
	} {
		rr := env.do("POST", "/search", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestSearch_UpstreamDown(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.index.queryErr = errBoom
	rr := env.do("POST", "/search", `{"query":"x"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	var body errorResponse
	decodeJSON(t, rr, &body)
	if body.Code != codeUpstream || body.Message != domain.ErrUpstream.Error() {
		t.Errorf("unexpected error body %+v", body)
	}
}

func TestAdmin_StatsAndDeletes(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.do("POST", "/ingest", `{"type":"blogs","metadata":{"type":"both","id":"b1","title":"A"}}`)
	env.do("POST", "/ingest", `{"type":"blogs","metadata":{"type":"both","id":"b2","title":"B"}}`)
	env.do("POST", "/ingest", `{"type":"stores","metadata":{"type":"both","zip":"89101","title":"S"}}`)

	rr := env.do("GET", "/index/stats", "")
	var stats statsResponse
	decodeJSON(t, rr, &stats)
	if stats.Total != 3 || stats.Namespaces["blogs"] != 2 || stats.Namespaces["orphan-products"] != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	rr = env.do("GET", "/index/stats?namespace=stores", "")
	var filtered statsResponse
	decodeJSON(t, rr, &filtered)
	if filtered.Total != 1 || len(filtered.Namespaces) != 1 || filtered.Namespaces["stores"] != 1 {
		t.Fatalf("unexpected filtered stats %+v", filtered)
	}

	rr = env.do("DELETE", "/index/vectors", `{"namespace":"blogs","ids":["b1","missing"]}`)
	var del deletedResponse
	decodeJSON(t, rr, &del)
	if del.Deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", del.Deleted)
	}

	rr = env.do("DELETE", "/index/namespaces/stores", "")
	decodeJSON(t, rr, &del)
	if del.Deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", del.Deleted)
	}

	rr = env.do("DELETE", "/index", "")
	decodeJSON(t, rr, &del)
	if del.Deleted != 1 {
		t.Errorf("expected 1 remaining vector deleted, got %d", del.Deleted)
	}
}

func TestAdmin_DeleteVectorsValidation(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rr := env.do("DELETE", "/index/vectors", `{"namespace":"blogs","ids":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdmin_CacheDisabled(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	if rr := env.do("DELETE", "/cache/entries", ""); rr.Code != http.StatusNoContent {
		t.Errorf("flush: expected 204, got %d", rr.Code)
	}
	if rr := env.do("DELETE", "/cache/entries/abc", ""); rr.Code != http.StatusNotFound {
		t.Errorf("delete: expected 404, got %d", rr.Code)
	}
}

func TestAdmin_RequiresAuth(t *testing.T) {
	env := newTestEnv(t, envOptions{apiKeys: []string{"secret"}})

	if rr := env.do("GET", "/index/stats", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rr.Code)
	}
	if rr := env.do("GET", "/index/stats", "", "Authorization", "Bearer secret"); rr.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rr.Code)
	}
	// public routes stay open
	if rr := env.do("POST", "/search", `{"query":"x"}`); rr.Code != http.StatusOK {
		t.Errorf("expected public search, got %d", rr.Code)
	}
	if rr := env.do("GET", "/health", ""); rr.Code != http.StatusOK {
		t.Errorf("expected public health, got %d", rr.Code)
	}
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rr := env.do("GET", "/collections", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var body errorResponse
	decodeJSON(t, rr, &body)
	if body.Code != codeNotFound {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestJSONRecoverer(t *testing.T) {
	h := JSONRecoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/", http.NoBody))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body errorResponse
	decodeJSON(t, rr, &body)
	if body.Code != codeInternal || body.Message != "An unexpected error occurred" {
		t.Errorf("unexpected body %+v", body)
	}
}
