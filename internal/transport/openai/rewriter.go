package openai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/catalogsearch/internal/domain"
)

const rewritePrompt = "Rewrite the shopper's search query for a retail cannabis catalog " +
	"(products, blog posts, store listings). Keep the intent, expand abbreviations, " +
	"fix spelling and drop filler words. Reply with the rewritten query only."

// Rewriter rewrites search queries with a chat completion before embedding.
type Rewriter struct {
	client *openai.Client
	model  string
}

// NewRewriter creates a query rewriter. cfg.Model is the chat model.
func NewRewriter(cfg *Config) *Rewriter {
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Rewriter{client: newClient(cfg), model: model}
}

// Rewrite returns the rewritten query.
func (r *Rewriter) Rewrite(ctx context.Context, query string) (string, error) {
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: rewritePrompt},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("rewrite query: %w: %w", err, domain.ErrUpstream)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("rewrite query: no choices: %w", domain.ErrUpstream)
	}

	out := strings.Trim(strings.TrimSpace(resp.Choices[0].Message.Content), `"`)
	if out == "" {
		return "", fmt.Errorf("rewrite query: empty completion: %w", domain.ErrUpstream)
	}
	return out, nil
}
