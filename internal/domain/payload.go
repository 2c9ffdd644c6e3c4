// Answer payload contract.
//
// AnswerPayload is the versioned value object streamed to the client and
// stored verbatim on the assistant message for every turn, data or non-data.
// The version field is bumped only on breaking shape changes.
package domain

import (
	"encoding/json"

	"github.com/datachat-labs/go-datachat-backend/internal/llm"
)

// Payload status values.
const (
	PayloadStatusComplete = "complete"
	PayloadStatusNonData  = "non_data"
	PayloadStatusError    = "error"

	// PayloadVersion is the current answer payload contract version.
	PayloadVersion = "v1"
)

// AnswerPayload is the structured response contract for one turn.
type AnswerPayload struct {
	Version    string      `json:"version"`
	Status     string      `json:"status"`
	AnswerText string      `json:"answerText"`
	Table      TableBlock  `json:"table"`
	Downloads  []Download  `json:"downloads"`
	Chart      *ChartSpec  `json:"chart"`
	Meta       PayloadMeta `json:"meta"`
}

// TableBlock holds the tabular result of the executed query. RowCount always
// reflects the full result size; Rows is capped for the UI and Truncated is
// true iff RowCount exceeds the cap.
type TableBlock struct {
	Columns   []string   `json:"columns"`
	Rows      [][]string `json:"rows"`
	RowCount  int        `json:"rowCount"`
	Truncated bool       `json:"truncated"`
}

// Download is an inline export artifact attached to an answer.
type Download struct {
	Kind     string `json:"kind"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Content  string `json:"content"`
}

// ChartSpec describes an optional time-series chart inferred from the result.
type ChartSpec struct {
	Type      string           `json:"type"`
	DateKey   string           `json:"dateKey"`
	MetricKey string           `json:"metricKey"`
	Points    []map[string]any `json:"points"`
}

// PayloadMeta carries per-turn diagnostics: the executed SQL, its audit row
// id, aggregated token usage, and retrieval metadata.
type PayloadMeta struct {
	SQL        string     `json:"sql,omitempty"`
	SQLQueryID int64      `json:"sqlQueryId,omitempty"`
	Tokens     TokenBlock `json:"tokens"`
	Rag        RagBlock   `json:"rag"`
}

// TokenBlock is the aggregated token usage for one turn.
type TokenBlock struct {
	Model  string `json:"model"`
	Input  int    `json:"input"`
	Output int    `json:"output"`
	Total  int    `json:"total"`
}

// UnmarshalJSON tolerates the historical token field-name variants found in
// stored payloads from older writers (prompt_tokens, inputTokens, ...),
// normalizing them into the current shape on every read.
func (t *TokenBlock) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if m, ok := raw["model"].(string); ok {
		t.Model = m
	}
	u := llm.NormalizeUsage(raw)
	t.Input, t.Output, t.Total = u.Input, u.Output, u.Total
	return nil
}

// RagBlock reports whether retrieval was requested, whether it produced
// results, and the rank-ordered source descriptors shown to the user.
// Raw similarity scores are never exposed.
type RagBlock struct {
	Requested   bool        `json:"requested"`
	Used        bool        `json:"used"`
	Error       string      `json:"error,omitempty"`
	SourceCount int         `json:"sourceCount"`
	Sources     []RagSource `json:"sources"`
}

// RagSource is one retrieved passage descriptor: its 1-based rank and a
// snippet capped at 500 characters.
type RagSource struct {
	Rank    int    `json:"rank"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet"`
}
