package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/datachat-labs/go-datachat-backend/internal/config"
)

// fakeOpenAI serves minimal OpenAI-compatible chat and embedding responses.
func fakeOpenAI(t *testing.T, choices int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/chat/completions":
			var body struct {
				Model    string `json:"model"`
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode request: %v", err)
			}
			resp := map[string]any{
				"choices": []map[string]any{},
				"usage":   map[string]any{"prompt_tokens": 9, "completion_tokens": 4, "total_tokens": 13},
			}
			if choices > 0 {
				resp["choices"] = []map[string]any{
					{"message": map[string]any{"role": "assistant", "content": "  SELECT 1  "}},
				}
			}
			json.NewEncoder(w).Encode(resp)
		case "/embeddings":
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"embedding": []float32{0.1, 0.2, 0.3}},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestClient_Invoke(t *testing.T) {
	srv := fakeOpenAI(t, 1)
	defer srv.Close()

	c := NewClient(config.LLMConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "gpt-test",
		Timeout: 5 * time.Second,
	})
	if c.Model() != "gpt-test" {
		t.Fatalf("model = %q", c.Model())
	}

	comp, err := c.Invoke(context.Background(), []Message{System("sys"), User("hi")})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if comp.Content != "SELECT 1" {
		t.Fatalf("content = %q, want trimmed reply", comp.Content)
	}
	if comp.Usage != (Usage{Input: 9, Output: 4, Total: 13}) {
		t.Fatalf("usage = %+v", comp.Usage)
	}
}

func TestClient_Invoke_EmptyChoices(t *testing.T) {
	srv := fakeOpenAI(t, 0)
	defer srv.Close()

	c := NewClient(config.LLMConfig{APIKey: "k", BaseURL: srv.URL, Model: "m", Timeout: 5 * time.Second})
	if _, err := c.Invoke(context.Background(), []Message{User("hi")}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestClient_Embed(t *testing.T) {
	srv := fakeOpenAI(t, 1)
	defer srv.Close()

	c := NewClient(config.LLMConfig{APIKey: "k", BaseURL: srv.URL, Model: "m", EmbeddingModel: "emb", Timeout: 5 * time.Second})
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Fatalf("vector = %v", vec)
	}
}
