package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
	"github.com/datachat-labs/go-datachat-backend/internal/repo"
)

const (
	defaultTitle  = "New conversation"
	titleMaxRunes = 80
	titleCutRunes = 77
)

// DeriveTitle produces a conversation title from the first question.
// Blank input falls back to a fixed default; long input is truncated on a
// rune boundary with an ellipsis so the result never exceeds 80 runes.
func DeriveTitle(question string) string {
	t := strings.TrimSpace(question)
	if t == "" {
		return defaultTitle
	}
	runes := []rune(t)
	if len(runes) <= titleMaxRunes {
		return t
	}
	return string(runes[:titleCutRunes]) + "..."
}

// TurnSetup is the durable state established before any model call: the
// conversation the turn belongs to and the persisted user message.
type TurnSetup struct {
	Conversation *domain.Conversation
	UserMessage  *domain.Message
	Created      bool
}

// Bootstrap validates the question, resolves or creates the conversation,
// and persists the user message. The user message is written before any
// downstream step so a crash mid-turn still leaves the question on record.
func Bootstrap(ctx context.Context, db *gorm.DB, tenantID, userID string, conversationID *int64, question string, maxRunes int) (*TurnSetup, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, ErrEmptyQuestion
	}
	if maxRunes > 0 && len([]rune(q)) > maxRunes {
		return nil, ErrQuestionTooLong
	}

	var (
		conv    *domain.Conversation
		created bool
		err     error
	)
	if conversationID != nil {
		conv, err = repo.GetConversation(ctx, db, *conversationID, tenantID, userID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrConversationNotFound
			}
			return nil, err
		}
	} else {
		conv, err = repo.CreateConversation(ctx, db, tenantID, userID, DeriveTitle(q))
		if err != nil {
			return nil, err
		}
		created = true
	}

	msg, err := repo.CreateMessage(ctx, db, tenantID, conv.ID, domain.RoleUser, q, nil)
	if err != nil {
		return nil, err
	}
	return &TurnSetup{Conversation: conv, UserMessage: msg, Created: created}, nil
}
