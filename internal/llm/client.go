package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/datachat-labs/go-datachat-backend/internal/config"
)

// Chat message roles, mirroring the wire protocol.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned when the provider answers with no choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// Message is one prompt message handed to the model.
type Message struct {
	Role    string
	Content string
}

// System builds a system prompt message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user prompt message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Completion is the normalized result of one model invocation.
type Completion struct {
	Content string
	Usage   Usage
}

// Invoker is the single-call contract every pipeline step depends on.
// Implementations must be safe for concurrent use.
type Invoker interface {
	// Invoke runs one chat completion and returns the text plus usage.
	Invoke(ctx context.Context, messages []Message) (Completion, error)
	// Model reports the configured model identifier (for usage records).
	Model() string
}

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Client implements Invoker and Embedder on top of an OpenAI-compatible API.
type Client struct {
	api            *openai.Client
	model          string
	embeddingModel string
	timeout        time.Duration
}

// NewClient constructs a Client from configuration. A custom BaseURL routes
// calls to any OpenAI-compatible server.
func NewClient(cfg config.LLMConfig) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		api:            openai.NewClientWithConfig(clientConfig),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		timeout:        timeout,
	}
}

// Model returns the configured chat model identifier.
func (c *Client) Model() string { return c.model }

// Invoke runs one chat completion under the per-call timeout and normalizes
// the provider usage block.
func (c *Client) Invoke(ctx context.Context, messages []Message) (Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, ErrEmptyResponse
	}

	return Completion{
		Content: strings.TrimSpace(resp.Choices[0].Message.Content),
		Usage: Usage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
			Total:  resp.Usage.TotalTokens,
		},
	}, nil
}

// Embed returns the embedding vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Data[0].Embedding, nil
}
