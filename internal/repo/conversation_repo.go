// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model. Every read is scoped by tenant_id in addition to the
// natural key; there are no exceptions.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
)

// CreateConversation inserts a new conversation owned by (tenantID, userID).
func CreateConversation(ctx context.Context, db *gorm.DB, tenantID, userID, title string) (*domain.Conversation, error) {
	c := &domain.Conversation{
		TenantID: tenantID,
		UserID:   userID,
		Title:    title,
		Status:   "active",
	}
	return c, db.WithContext(ctx).Create(c).Error
}

// GetConversation fetches a conversation by id, ensuring it belongs to the
// given tenant and user. Returns ErrNotFound when no such row exists.
func GetConversation(ctx context.Context, db *gorm.DB, id int64, tenantID, userID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ? AND user_id = ?", id, tenantID, userID).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountConversations returns the total conversations for pagination.
func CountConversations(ctx context.Context, db *gorm.DB, tenantID, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns a page of the user's conversations ordered
// most-recently-updated first.
func ListConversationsPage(ctx context.Context, db *gorm.DB, tenantID, userID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("updated_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateConversationSummary writes the rolling summary and its timestamp.
// Only the summary maintainer calls this.
func UpdateConversationSummary(ctx context.Context, db *gorm.DB, id int64, tenantID, summary string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]any{
			"summary":            summary,
			"summary_updated_at": at,
		}).Error
}
