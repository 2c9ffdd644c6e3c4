// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the audit and accounting writers: the
// append-only sql_queries log and the per-turn token_usage rows.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
)

// CreateSQLQuery appends one audit row for an attempted statement.
func CreateSQLQuery(ctx context.Context, db *gorm.DB, rec *domain.SQLQuery) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(rec).Error
}

// LinkSQLQueryMessage sets message_id on an audit row after the assistant
// message for the turn has been persisted. The statement text, status, and
// timings are never rewritten.
func LinkSQLQueryMessage(ctx context.Context, db *gorm.DB, id int64, tenantID string, messageID int64) error {
	return db.WithContext(ctx).
		Model(&domain.SQLQuery{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Update("message_id", messageID).Error
}

// CreateTokenUsage inserts the aggregated usage row for one assistant turn.
func CreateTokenUsage(ctx context.Context, db *gorm.DB, rec *domain.TokenUsage) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(rec).Error
}

// UpdateTokenUsageTotals rewrites the token counters on an existing usage
// row. This is the single permitted mutation of token_usage, used when a
// same-turn conversation-summary refresh adds usage after the row was
// written; the caller must rewrite the stored answer payload in the same
// transaction.
func UpdateTokenUsageTotals(ctx context.Context, db *gorm.DB, id int64, tenantID string, prompt, completion, total int) error {
	return db.WithContext(ctx).
		Model(&domain.TokenUsage{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]any{
			"prompt_tokens":     prompt,
			"completion_tokens": completion,
			"total_tokens":      total,
		}).Error
}
