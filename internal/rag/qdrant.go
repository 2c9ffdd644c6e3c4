// Package rag implements knowledge-base retrieval for the question pipeline:
// a Qdrant HTTP search client and a retriever that embeds the question and
// returns rank-ordered passages from the tenant's collection. Retrieval is
// always best-effort; callers treat failures as an empty result.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/datachat-labs/go-datachat-backend/internal/config"
)

const maxErrorBodyBytes = 1024

// QdrantStore talks to a Qdrant instance over its HTTP API. The collection is
// chosen per call because each tenant owns its own collection.
type QdrantStore struct {
	baseURL string
	http    *http.Client
}

// NewQdrantStore builds a store for the configured endpoint.
func NewQdrantStore(cfg config.QdrantConfig) *QdrantStore {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QdrantStore{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// qdrantEnvelope is the standard response wrapper Qdrant puts around results.
type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type qdrantSearchResultItem struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Match is one scored search hit with its stored payload.
type Match struct {
	Score   float64
	Payload map[string]any
}

// Search runs a similarity query against one collection and returns matches
// in score order as Qdrant produced them.
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error) {
	if strings.TrimSpace(collection) == "" {
		return nil, fmt.Errorf("qdrant: collection required")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("qdrant: query vector required")
	}
	if topK <= 0 {
		topK = 5
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
	}
	var items []qdrantSearchResultItem
	path := "/collections/" + collection + "/points/search"
	if err := s.doJSON(ctx, http.MethodPost, path, req, &items); err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(items))
	for _, item := range items {
		out = append(out, Match{Score: item.Score, Payload: item.Payload})
	}
	return out, nil
}

// doJSON performs one request and decodes the Qdrant envelope.
func (s *QdrantStore) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("qdrant: encode request: %w", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("qdrant: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if err != nil {
		return fmt.Errorf("qdrant: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant: status=%d body=%q", resp.StatusCode, truncateBody(raw))
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("qdrant: decode envelope: %w", err)
	}
	if msg := envelopeStatusError(envelope.Status); msg != "" {
		return fmt.Errorf("qdrant: %s", msg)
	}

	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("qdrant: decode result: %w", err)
	}
	return nil
}

// envelopeStatusError returns a non-empty message when the envelope status
// reports anything other than "ok".
func envelopeStatusError(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil && strings.TrimSpace(statusObject.Error) != "" {
		return strings.TrimSpace(statusObject.Error)
	}
	return "status=" + status
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
