package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
	"github.com/datachat-labs/go-datachat-backend/internal/llm"
	"github.com/datachat-labs/go-datachat-backend/internal/rag"
	"github.com/datachat-labs/go-datachat-backend/internal/repo"
)

// snippetMaxChars caps the passage excerpt echoed in rag sources.
const snippetMaxChars = 500

// queryLogAnswerMax caps the answer text copied into telemetry rows.
const queryLogAnswerMax = 1000

// Assembler merges the artifacts of a completed turn into the versioned
// answer payload and owns the persistence ordering: assistant message
// first, token usage second, then the cadence-gated summary refresh, then
// best-effort telemetry.
type Assembler struct {
	DB           *gorm.DB
	Summary      *SummaryMaintainer
	Model        string
	MaxRows      int
	CSVThreshold int
}

// TurnArtifacts collects everything the data path produced for one turn.
type TurnArtifacts struct {
	Conversation *domain.Conversation
	Question     string
	SQL          string
	SQLQueryID   int64
	Result       *QueryResult
	AnswerText   string
	Chart        *domain.ChartSpec
	Rag          domain.RagBlock
	Passages     []rag.Passage
	Usage        llm.Usage
	StartedAt    time.Time
}

// FinalizeData builds the payload for a completed data turn, persists the
// assistant message and the usage row, links the audit row, refreshes the
// conversation summary when due, and writes telemetry. Telemetry failures
// are logged and swallowed; the answer is already committed by then.
func (a *Assembler) FinalizeData(ctx context.Context, art *TurnArtifacts) (*domain.Message, *domain.AnswerPayload, error) {
	payload := a.buildDataPayload(art)

	msg, usageID, err := a.persistTurn(ctx, art.Conversation, payload, art.Usage)
	if err != nil {
		return nil, nil, err
	}

	if err := repo.LinkSQLQueryMessage(ctx, a.DB, art.SQLQueryID, art.Conversation.TenantID, msg.ID); err != nil {
		log.Warn().Err(err).Int64("sql_query_id", art.SQLQueryID).Msg("audit message link failed")
	}

	a.maybeRefreshSummary(ctx, art.Conversation, msg, usageID, payload, art.Usage)
	a.writeTelemetry(ctx, art, payload)
	return msg, payload, nil
}

// FinalizeNonData persists a conversational (non-data) turn: same message
// and usage ordering as the data path, but no audit link and no telemetry.
func (a *Assembler) FinalizeNonData(ctx context.Context, conv *domain.Conversation, answerText string, usage llm.Usage) (*domain.Message, *domain.AnswerPayload, error) {
	payload := &domain.AnswerPayload{
		Version:    domain.PayloadVersion,
		Status:     domain.PayloadStatusNonData,
		AnswerText: answerText,
		Table:      domain.TableBlock{Columns: []string{}, Rows: [][]string{}},
		Downloads:  []domain.Download{},
		Meta: domain.PayloadMeta{
			Tokens: tokenBlock(a.Model, usage),
			Rag:    domain.RagBlock{Sources: []domain.RagSource{}},
		},
	}

	msg, usageID, err := a.persistTurn(ctx, conv, payload, usage)
	if err != nil {
		return nil, nil, err
	}
	a.maybeRefreshSummary(ctx, conv, msg, usageID, payload, usage)
	return msg, payload, nil
}

// buildDataPayload is pure aggregation: table block with the UI row cap,
// optional CSV export, rag sources, chart, and meta.
func (a *Assembler) buildDataPayload(art *TurnArtifacts) *domain.AnswerPayload {
	result := art.Result
	rows := result.Rows
	truncated := false
	if a.MaxRows > 0 && len(rows) > a.MaxRows {
		rows = rows[:a.MaxRows]
		truncated = true
	}

	payload := &domain.AnswerPayload{
		Version:    domain.PayloadVersion,
		Status:     domain.PayloadStatusComplete,
		AnswerText: art.AnswerText,
		Table: domain.TableBlock{
			Columns:   result.Columns,
			Rows:      rows,
			RowCount:  result.RowCount,
			Truncated: truncated,
		},
		Downloads: []domain.Download{},
		Chart:     art.Chart,
		Meta: domain.PayloadMeta{
			SQL:        art.SQL,
			SQLQueryID: art.SQLQueryID,
			Tokens:     tokenBlock(a.Model, art.Usage),
			Rag:        ragBlock(art.Rag, art.Passages),
		},
	}

	if a.CSVThreshold > 0 && result.RowCount >= a.CSVThreshold {
		if csvContent, err := renderCSV(result); err != nil {
			log.Warn().Err(err).Msg("csv export failed, omitting download")
		} else {
			payload.Downloads = append(payload.Downloads, domain.Download{
				Kind:     "csv",
				Filename: "result.csv",
				MimeType: "text/csv",
				Content:  csvContent,
			})
		}
	}
	return payload
}

// persistTurn writes the assistant message then the usage row. The
// message goes first so the usage row can reference its id.
func (a *Assembler) persistTurn(ctx context.Context, conv *domain.Conversation, payload *domain.AnswerPayload, usage llm.Usage) (*domain.Message, int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal payload: %w", err)
	}
	msg, err := repo.CreateMessage(ctx, a.DB, conv.TenantID, conv.ID, domain.RoleAssistant, payload.AnswerText, raw)
	if err != nil {
		return nil, 0, err
	}

	usageRec := &domain.TokenUsage{
		TenantID:         conv.TenantID,
		ConversationID:   conv.ID,
		MessageID:        msg.ID,
		UserID:           conv.UserID,
		Model:            a.Model,
		PromptTokens:     usage.Input,
		CompletionTokens: usage.Output,
		TotalTokens:      usage.Total,
	}
	if err := repo.CreateTokenUsage(ctx, a.DB, usageRec); err != nil {
		return nil, 0, err
	}
	return msg, usageRec.ID, nil
}

// maybeRefreshSummary runs the cadence-gated conversation summary. When
// it fires within this turn, the extra usage is folded into the already
// persisted usage row and the stored payload, rewritten together so the
// two never disagree. All failures here are logged and swallowed.
func (a *Assembler) maybeRefreshSummary(ctx context.Context, conv *domain.Conversation, msg *domain.Message, usageID int64, payload *domain.AnswerPayload, usage llm.Usage) {
	if a.Summary == nil {
		return
	}
	count, err := repo.CountMessages(ctx, a.DB, conv.TenantID, conv.ID)
	if err != nil {
		log.Warn().Err(err).Int64("conversation_id", conv.ID).Msg("message count failed, skipping summary check")
		return
	}
	if !a.Summary.ShouldRefresh(count) {
		return
	}

	summaryUsage, err := a.Summary.Refresh(ctx, a.DB, conv)
	if err != nil {
		log.Warn().Err(err).Int64("conversation_id", conv.ID).Msg("conversation summary refresh failed")
		return
	}
	if summaryUsage.IsZero() {
		return
	}

	total := usage.Add(summaryUsage)
	updated := *payload
	updated.Meta.Tokens = tokenBlock(a.Model, total)

	raw, err := json.Marshal(&updated)
	if err != nil {
		log.Error().Err(err).Msg("payload re-marshal failed after summary refresh")
		return
	}
	// The usage row and the stored payload must move together: either both
	// carry the folded totals or neither does.
	err = a.DB.Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdateTokenUsageTotals(ctx, tx, usageID, conv.TenantID, total.Input, total.Output, total.Total); err != nil {
			return err
		}
		return repo.UpdateMessagePayload(ctx, tx, msg.ID, conv.TenantID, raw)
	})
	if err != nil {
		log.Error().Err(err).Int64("message_id", msg.ID).Msg("summary usage fold failed")
		return
	}
	payload.Meta.Tokens = updated.Meta.Tokens
	msg.AnswerPayload = raw
}

// writeTelemetry persists the QueryLog row and its QuerySource children.
// Each write is independently best-effort.
func (a *Assembler) writeTelemetry(ctx context.Context, art *TurnArtifacts, payload *domain.AnswerPayload) {
	latency := int64(0)
	if !art.StartedAt.IsZero() {
		latency = time.Since(art.StartedAt).Milliseconds()
	}
	qlog := &domain.QueryLog{
		TenantID:       art.Conversation.TenantID,
		ConversationID: art.Conversation.ID,
		UserID:         art.Conversation.UserID,
		Question:       art.Question,
		Answer:         truncateForLog(payload.AnswerText, queryLogAnswerMax),
		SQLText:        art.SQL,
		TotalTokens:    payload.Meta.Tokens.Total,
		LatencyMs:      latency,
		RagUsed:        payload.Meta.Rag.Used,
	}
	if err := repo.CreateQueryLog(ctx, a.DB, qlog); err != nil {
		log.Warn().Err(err).Msg("query log write failed")
		return
	}
	if len(payload.Meta.Rag.Sources) == 0 {
		return
	}
	sources := make([]domain.QuerySource, 0, len(payload.Meta.Rag.Sources))
	for _, src := range payload.Meta.Rag.Sources {
		sources = append(sources, domain.QuerySource{
			TenantID:   art.Conversation.TenantID,
			QueryLogID: qlog.ID,
			Rank:       src.Rank,
			Title:      src.Title,
			Snippet:    src.Snippet,
		})
	}
	if err := repo.CreateQuerySources(ctx, a.DB, sources); err != nil {
		log.Warn().Err(err).Msg("query source write failed")
	}
}

// ragBlock fills in the source descriptors from the retrieved passages.
// Raw similarity scores are never exposed.
func ragBlock(base domain.RagBlock, passages []rag.Passage) domain.RagBlock {
	base.SourceCount = len(passages)
	base.Sources = make([]domain.RagSource, 0, len(passages))
	for i, p := range passages {
		base.Sources = append(base.Sources, domain.RagSource{
			Rank:    i + 1,
			Title:   p.Title,
			Snippet: truncateForLog(p.Content, snippetMaxChars),
		})
	}
	return base
}

func tokenBlock(model string, u llm.Usage) domain.TokenBlock {
	return domain.TokenBlock{Model: model, Input: u.Input, Output: u.Output, Total: u.Total}
}

// renderCSV serializes the full result, header row included.
func renderCSV(result *QueryResult) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(result.Columns); err != nil {
		return "", err
	}
	for _, row := range result.Rows {
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
