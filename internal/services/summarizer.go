package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
	"github.com/datachat-labs/go-datachat-backend/internal/llm"
	"github.com/datachat-labs/go-datachat-backend/internal/repo"
)

const answerSystemPrompt = `You summarize SQL query results for a business user.
Given the question and the result rows, write a short factual answer in plain language.
Respond with a JSON object: {"answerText": "<your answer>"}. No markdown, no extra keys.`

const conversationSummaryPrompt = `You maintain a short rolling summary of a conversation between a user and a data assistant.
Rewrite the summary so it captures the topics discussed and the key findings so far, in at most 120 words.
Output only the summary text.`

// Summarizer turns an executed query result into the natural-language
// answer text shown to the user.
type Summarizer struct {
	LLM        llm.Invoker
	SampleRows int
}

// Summarize produces the answer text for a data turn. The model is asked
// for a strict JSON object; a reply that fails to parse is used verbatim
// after fence stripping, so a chatty model degrades the format but never
// the turn.
func (s *Summarizer) Summarize(ctx context.Context, question string, result *QueryResult) (string, llm.Usage, error) {
	user := fmt.Sprintf("Question: %s\n\nResult:\n%s", question, renderResultSample(result, s.SampleRows))
	comp, err := s.LLM.Invoke(ctx, []llm.Message{llm.System(answerSystemPrompt), llm.User(user)})
	if err != nil {
		return "", comp.Usage, err
	}

	raw := StripCodeFences(comp.Content)
	var parsed struct {
		AnswerText string `json:"answerText"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil && strings.TrimSpace(parsed.AnswerText) != "" {
		return strings.TrimSpace(parsed.AnswerText), comp.Usage, nil
	}
	log.Debug().Msg("answer reply was not strict JSON, using raw text")
	return raw, comp.Usage, nil
}

// renderResultSample flattens the result into a compact pipe-delimited
// block, capped at sampleRows rows so wide results do not blow up the
// prompt. The true row count is always stated.
func renderResultSample(result *QueryResult, sampleRows int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d row(s) total\n", result.RowCount)
	sb.WriteString(strings.Join(result.Columns, " | "))
	n := len(result.Rows)
	if sampleRows > 0 && n > sampleRows {
		n = sampleRows
	}
	for _, row := range result.Rows[:n] {
		sb.WriteString("\n")
		sb.WriteString(strings.Join(row, " | "))
	}
	if n < result.RowCount {
		fmt.Fprintf(&sb, "\n... (%d more rows)", result.RowCount-n)
	}
	return sb.String()
}

// SummaryMaintainer owns the rolling conversation summary. It is the only
// writer of Conversation.Summary.
type SummaryMaintainer struct {
	LLM         llm.Invoker
	MinMessages int
	Interval    int
}

// ShouldRefresh reports whether the summary is due at the given message
// count: the conversation must have reached the minimum size, and counts
// line up with the refresh interval.
func (m *SummaryMaintainer) ShouldRefresh(messageCount int64) bool {
	if m.Interval <= 0 || messageCount < int64(m.MinMessages) {
		return false
	}
	return messageCount%int64(m.Interval) == 0
}

// Refresh recomputes and persists the conversation summary from the full
// message history. It returns the usage of the summary call so the caller
// can fold it into the turn's accounting. Failures leave the previous
// summary in place.
func (m *SummaryMaintainer) Refresh(ctx context.Context, db *gorm.DB, conv *domain.Conversation) (llm.Usage, error) {
	msgs, err := repo.ListMessages(ctx, db, conv.TenantID, conv.ID, 0)
	if err != nil {
		return llm.Usage{}, err
	}

	var sb strings.Builder
	if prev := strings.TrimSpace(conv.Summary); prev != "" {
		fmt.Fprintf(&sb, "Previous summary:\n%s\n\n", prev)
	}
	sb.WriteString("Transcript:")
	for _, msg := range msgs {
		fmt.Fprintf(&sb, "\n%s: %s", msg.Role, msg.Content)
	}

	comp, err := m.LLM.Invoke(ctx, []llm.Message{llm.System(conversationSummaryPrompt), llm.User(sb.String())})
	if err != nil {
		return comp.Usage, err
	}
	summary := strings.TrimSpace(comp.Content)
	if summary == "" {
		return comp.Usage, llm.ErrEmptyResponse
	}

	now := time.Now().UTC()
	if err := repo.UpdateConversationSummary(ctx, db, conv.ID, conv.TenantID, summary, now); err != nil {
		return comp.Usage, err
	}
	conv.Summary = summary
	conv.SummaryUpdatedAt = &now
	return comp.Usage, nil
}
