// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
)

// ConversationsStats returns aggregate metadata for a user's conversations:
// the total number of rows and the maximum UpdatedAt timestamp among them.
// When the user has no conversations, count is 0 and maxUpdatedAt is nil.
func ConversationsStats(ctx context.Context, db *gorm.DB, tenantID, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// MessagesStats returns aggregate metadata for messages within a
// conversation: the total number of rows and the maximum CreatedAt timestamp
// among them. When the conversation has no messages, count is 0 and
// maxCreatedAt is nil.
func MessagesStats(ctx context.Context, db *gorm.DB, tenantID string, conversationID int64) (count int64, maxCreatedAt *time.Time, err error) {
	q := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("tenant_id = ? AND conversation_id = ?", tenantID, conversationID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
