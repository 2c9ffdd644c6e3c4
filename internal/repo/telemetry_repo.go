// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file covers the best-effort telemetry tables
// (query_logs, query_sources) and the read-only long-term memory lookup.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
)

// CreateQueryLog appends one telemetry row for a completed data turn.
func CreateQueryLog(ctx context.Context, db *gorm.DB, rec *domain.QueryLog) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(rec).Error
}

// CreateQuerySources appends the rank-ordered source descriptors for one
// query log. A nil or empty slice is a no-op.
func CreateQuerySources(ctx context.Context, db *gorm.DB, sources []domain.QuerySource) error {
	if len(sources) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range sources {
		if sources[i].CreatedAt.IsZero() {
			sources[i].CreatedAt = now
		}
	}
	return db.WithContext(ctx).Create(&sources).Error
}

// GetUserMemory returns the long-term memory summary for (tenantID, userID),
// or "" when none exists. The pipeline never writes this table.
func GetUserMemory(ctx context.Context, db *gorm.DB, tenantID, userID string) (string, error) {
	var m domain.UserMemory
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("updated_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.Summary, nil
}
