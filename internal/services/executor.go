package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
	"github.com/datachat-labs/go-datachat-backend/internal/observability"
	"github.com/datachat-labs/go-datachat-backend/internal/repo"
)

// QueryResult is the materialized output of one executed statement. Rows
// are rendered as strings for the wire; RowCount is the full result size
// before any display truncation.
type QueryResult struct {
	Columns    []string
	Rows       [][]string
	RowCount   int
	DurationMs int64
}

// Executor runs guarded, scoped SQL against a tenant data database and
// records every attempt in the append-only sql_queries audit table on the
// application database.
type Executor struct {
	AppDB *gorm.DB
}

// Execute runs the statement and writes the audit row. The audit row is
// written for failures as well; an audit write failure is logged but does
// not mask the execution outcome.
func (e *Executor) Execute(ctx context.Context, dataDB *gorm.DB, tenantID string, conversationID int64, sqlText string) (*QueryResult, int64, error) {
	start := time.Now()
	res, execErr := runQuery(ctx, dataDB, sqlText)
	elapsed := time.Since(start)
	durationMs := elapsed.Milliseconds()
	observability.RecordSQL(tenantID, elapsed.Seconds())

	audit := &domain.SQLQuery{
		TenantID:       tenantID,
		ConversationID: conversationID,
		SQLText:        sqlText,
		DurationMs:     durationMs,
	}
	if execErr != nil {
		audit.Status = domain.SQLStatusError
		audit.ErrorMessage = execErr.Error()
	} else {
		audit.Status = domain.SQLStatusSuccess
		audit.RowsReturned = res.RowCount
		res.DurationMs = durationMs
	}
	if err := repo.CreateSQLQuery(ctx, e.AppDB, audit); err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("sql audit write failed")
	}

	if execErr != nil {
		return nil, audit.ID, execErr
	}
	return res, audit.ID, nil
}

// Audit records a statement that never reached the database, such as a
// guard rejection. Failures are logged; there is nothing else to do.
func (e *Executor) Audit(ctx context.Context, tenantID string, conversationID int64, sqlText, reason string) {
	rec := &domain.SQLQuery{
		TenantID:       tenantID,
		ConversationID: conversationID,
		SQLText:        sqlText,
		Status:         domain.SQLStatusError,
		ErrorMessage:   reason,
	}
	if err := repo.CreateSQLQuery(ctx, e.AppDB, rec); err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("sql audit write failed")
	}
}

// runQuery executes the statement and scans every row into strings. NULL
// values render as empty strings.
func runQuery(ctx context.Context, dataDB *gorm.DB, sqlText string) (*QueryResult, error) {
	rows, err := dataDB.WithContext(ctx).Raw(sqlText).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := &QueryResult{Columns: cols, Rows: [][]string{}}
	values := make([]sql.NullString, len(cols))
	scan := make([]any, len(cols))
	for i := range values {
		scan[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		row := make([]string, len(cols))
		for i, v := range values {
			if v.Valid {
				row[i] = v.String
			}
		}
		out.Rows = append(out.Rows, row)
		out.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return out, nil
}
