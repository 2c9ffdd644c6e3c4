// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
)

// CreateMessage inserts a new message row. AnswerPayload is nil for user
// messages and holds the serialized answer payload for assistant messages.
func CreateMessage(ctx context.Context, db *gorm.DB, tenantID string, conversationID int64, role, content string, answerPayload []byte) (*domain.Message, error) {
	m := &domain.Message{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		AnswerPayload:  answerPayload,
		CreatedAt:      time.Now().UTC(),
	}
	return m, db.WithContext(ctx).Create(m).Error
}

// UpdateMessagePayload rewrites the stored answer payload on one message.
// Used only by the same-turn summary refresh, which must keep the payload and
// the usage row in agreement.
func UpdateMessagePayload(ctx context.Context, db *gorm.DB, messageID int64, tenantID string, answerPayload []byte) error {
	return db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND tenant_id = ?", messageID, tenantID).
		Update("answer_payload", answerPayload).Error
}

// GetMessage returns a single message by id, scoped to the tenant.
func GetMessage(ctx context.Context, db *gorm.DB, id int64, tenantID string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages ordered deterministically (CreatedAt ASC, ID ASC).
func ListMessages(ctx context.Context, db *gorm.DB, tenantID string, conversationID int64, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).
		Where("tenant_id = ? AND conversation_id = ?", tenantID, conversationID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, tenantID string, conversationID int64) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE tenant_id = ? AND conversation_id = ?", tenantID, conversationID).
		Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, tenantID string, conversationID int64, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND conversation_id = ?", tenantID, conversationID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
