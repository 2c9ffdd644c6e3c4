package rag

import (
	"context"
	"fmt"
	"strings"
)

// Passage is one retrieved knowledge-base excerpt, rank-ordered by score.
type Passage struct {
	Content string
	Title   string
	Score   float64
}

// Searcher is the vector-store contract the retriever needs.
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error)
}

// Embedder turns the question into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever embeds a question and searches the tenant's collection.
type Retriever struct {
	Embedder Embedder
	Store    Searcher
	TopK     int
}

// Retrieve returns the top-k passages for the question. Any failure (embed or
// search) is returned as an error; callers degrade to an empty context block.
func (r *Retriever) Retrieve(ctx context.Context, collection, question string) ([]Passage, error) {
	if r == nil || r.Embedder == nil || r.Store == nil {
		return nil, fmt.Errorf("rag: retriever not configured")
	}

	vector, err := r.Embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("rag: embed question: %w", err)
	}

	topK := r.TopK
	if topK <= 0 {
		topK = 5
	}
	matches, err := r.Store.Search(ctx, collection, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}

	out := make([]Passage, 0, len(matches))
	for _, m := range matches {
		content := payloadString(m.Payload, "page_content", "text", "content")
		if strings.TrimSpace(content) == "" {
			continue
		}
		out = append(out, Passage{
			Content: content,
			Title:   payloadString(m.Payload, "title", "source", "document"),
			Score:   m.Score,
		})
	}
	return out, nil
}

// payloadString returns the first non-empty string value among the keys.
func payloadString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
