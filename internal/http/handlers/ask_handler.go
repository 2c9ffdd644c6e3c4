// Ask HTTP handler.
//
// This file exposes the streaming question endpoint:
//   - POST /ask  (run one pipeline turn, streamed as server-sent events)
//
// The handler is transport-thin: it binds and validates the request body,
// resolves the tenant's data connection, opens the event stream, and
// delegates the turn to the pipeline. Every failure after the stream is
// open is reported in-band through the `error` event with a stable code;
// the stream always terminates with exactly one `final` or `error` event.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous completed
// turn exists for (tenant, user, key), the handler replays the recorded
// answer as a `final` event and sets `Idempotency-Replayed: true` without
// running the pipeline again.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
	"github.com/datachat-labs/go-datachat-backend/internal/http/middleware"
	"github.com/datachat-labs/go-datachat-backend/internal/http/sse"
	"github.com/datachat-labs/go-datachat-backend/internal/repo"
	"github.com/datachat-labs/go-datachat-backend/internal/services"
	"github.com/datachat-labs/go-datachat-backend/internal/tenant"
)

//
// DTOs
//

// AskRequest is the JSON payload for asking a question.
type AskRequest struct {
	// ConversationID continues an existing conversation when set; a new
	// conversation is created when null.
	ConversationID *int64 `json:"conversationId"`
	// Question is the natural-language question. It must be non-blank.
	Question string `json:"question" binding:"required"`
	// UseRag enables knowledge-base retrieval for this turn.
	UseRag bool `json:"useRag"`
}

// FinalEvent is the payload of the terminal `final` stream event.
type FinalEvent struct {
	ConversationID int64                 `json:"conversationId"`
	Messages       []domain.Message      `json:"messages"`
	AnswerPayload  *domain.AnswerPayload `json:"answerPayload"`
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for asking questions and browsing
// conversations.
type Handlers struct {
	DB             *gorm.DB
	Pipeline       *services.Pipeline
	Pools          *tenant.Pools
	IdempotencyTTL time.Duration
}

// New constructs a Handlers instance bound to the given dependencies.
func New(db *gorm.DB, pipeline *services.Pipeline, pools *tenant.Pools, idemTTL time.Duration) *Handlers {
	return &Handlers{DB: db, Pipeline: pipeline, Pools: pools, IdempotencyTTL: idemTTL}
}

//
// Handlers
//

// Ask runs one pipeline turn over a server-sent-events stream.
func (h *Handlers) Ask(c *gin.Context) {
	ctx := c.Request.Context()
	stream := sse.New(c.Writer)

	principal, okP := middleware.PrincipalFrom(c)
	ten, okT := middleware.TenantFrom(c)
	if !okP || !okT {
		stream.StreamError(http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required", nil)
		return
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		stream.StreamError(http.StatusBadRequest, ErrCodeInvalidRequest, "question is required", nil)
		return
	}

	// Idempotency replay: a recorded turn short-circuits the pipeline.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		if h.replayIfRecorded(c, stream, ten.ID, principal.UserID, idemKey) {
			return
		}
	}

	dataDB, err := h.Pools.Get(ten)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", ten.ID).Msg("tenant data connection failed")
		stream.StreamError(http.StatusInternalServerError, ErrCodeInternal, "an unexpected error occurred", nil)
		return
	}

	stream.Open()

	result, terr := h.Pipeline.Run(ctx, services.AskInput{
		Tenant:         ten,
		Principal:      principal,
		DataDB:         dataDB,
		ConversationID: req.ConversationID,
		Question:       req.Question,
		UseRag:         req.UseRag,
	}, stream)
	if terr != nil {
		stream.StreamError(terr.Status, terr.Code, terr.Message, terr.Extra)
		return
	}

	if idemKey != "" {
		assistantID := result.Messages[len(result.Messages)-1].ID
		if _, err := repo.CreateIdempotency(ctx, h.DB, ten.ID, principal.UserID, idemKey, result.ConversationID, assistantID, http.StatusOK, h.IdempotencyTTL); err != nil {
			log.Warn().Err(err).Msg("idempotency record write failed")
		}
	}

	stream.CloseWith(http.StatusOK, sse.EventFinal, FinalEvent{
		ConversationID: result.ConversationID,
		Messages:       result.Messages,
		AnswerPayload:  result.Payload,
	})
}

// replayIfRecorded serves a previously completed turn for the given key.
// It returns true when the stream has been terminated with the replay.
func (h *Handlers) replayIfRecorded(c *gin.Context, stream *sse.Stream, tenantID, userID, key string) bool {
	ctx := c.Request.Context()
	rec, err := repo.GetIdempotency(ctx, h.DB, tenantID, userID, key, time.Now().UTC())
	if err != nil || rec == nil {
		return false
	}
	msg, err := repo.GetMessage(ctx, h.DB, rec.MessageID, tenantID)
	if err != nil {
		return false
	}

	var payload domain.AnswerPayload
	if len(msg.AnswerPayload) > 0 {
		if err := json.Unmarshal(msg.AnswerPayload, &payload); err != nil {
			log.Warn().Err(err).Int64("message_id", msg.ID).Msg("stored payload unreadable, ignoring replay")
			return false
		}
	}

	c.Header("Idempotency-Replayed", "true")
	stream.Open()
	stream.CloseWith(http.StatusOK, sse.EventFinal, FinalEvent{
		ConversationID: rec.ConversationID,
		Messages:       []domain.Message{*msg},
		AnswerPayload:  &payload,
	})
	return true
}
