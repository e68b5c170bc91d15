// Package langcache is a client for the managed LangCache semantic cache REST API.
package langcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
)

const maxErrorBody = 4 << 10

// Config holds connection settings.
type Config struct {
	ServerURL string
	CacheID   string
	APIKey    string
	Timeout   time.Duration
}

// Client calls the LangCache entries API of a single cache.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient creates a LangCache client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	base := strings.TrimRight(cfg.ServerURL, "/") + "/v1/caches/" + url.PathEscape(cfg.CacheID)
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: base,
		apiKey:  cfg.APIKey,
	}
}

type searchRequest struct {
	Prompt              string  `json:"prompt"`
	SimilarityThreshold float64 `json:"similarityThreshold,omitempty"`
}

type entry struct {
	ID         string  `json:"id"`
	Prompt     string  `json:"prompt"`
	Response   string  `json:"response"`
	Similarity float64 `json:"similarity"`
}

type setRequest struct {
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
	TTLMillis int64  `json:"ttlMillis,omitempty"`
}

// Search returns the most similar entry at or above threshold.
func (c *Client) Search(ctx context.Context, prompt string, threshold float64) (domain.CacheHit, bool, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/entries/search",
		searchRequest{Prompt: prompt, SimilarityThreshold: threshold}, &raw); err != nil {
		return domain.CacheHit{}, false, err
	}

	entries, err := decodeEntries(raw)
	if err != nil {
		return domain.CacheHit{}, false, fmt.Errorf("langcache search: %w", err)
	}
	for _, e := range entries {
		// the service may return entries below the requested threshold
		if e.Response == "" || (e.Similarity > 0 && e.Similarity < threshold) {
			continue
		}
		return domain.CacheHit{ID: e.ID, Prompt: e.Prompt, Response: e.Response, Similarity: e.Similarity}, true, nil
	}
	return domain.CacheHit{}, false, nil
}

// Store writes a prompt/response entry. ttl <= 0 uses the cache default.
func (c *Client) Store(ctx context.Context, prompt, response string, ttl time.Duration) error {
	return c.do(ctx, http.MethodPost, "/entries",
		setRequest{Prompt: prompt, Response: response, TTLMillis: ttl.Milliseconds()}, nil)
}

// Delete removes one entry by id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/entries/"+url.PathEscape(id), nil, nil)
}

// Flush removes every entry of the cache.
func (c *Client) Flush(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/flush", nil, nil)
}

// decodeEntries accepts both a bare array and a {"data": [...]} envelope.
func decodeEntries(raw json.RawMessage) ([]entry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []entry
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode entries: %w", err)
		}
		return list, nil
	}
	var env struct {
		Data []entry `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return env.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("langcache %s %s: encode: %w", method, path, err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("langcache %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("langcache %s %s: %w: %w", method, path, err, domain.ErrUpstream)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("langcache %s %s: %w", method, path, domain.ErrNotFound)
	case resp.StatusCode >= http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("langcache %s %s: status %d: %s: %w",
			method, path, resp.StatusCode, strings.TrimSpace(string(msg)), domain.ErrUpstream)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("langcache %s %s: decode: %w", method, path, err)
	}
	return nil
}
