// Package domain defines the persistence models for conversations, messages,
// and the audit/usage side tables that accompany every answered question.
// These types are mapped with GORM and form the core data layer of the
// application. Every table carries a tenant_id column; repository code must
// filter on it in addition to the natural key.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Conversation represents a question/answer thread owned by one user within
// one tenant. Conversations are created lazily on the first question when the
// client does not supply an id.
//
// Fields:
//   - ID: autoincrement primary key (numeric ids are part of the wire contract).
//   - TenantID / UserID: ownership scope; both are always checked on reads.
//   - Title: derived from the first question (truncated to 80 chars).
//   - Summary: rolling conversation summary maintained on a fixed cadence by
//     the summary maintainer; no other component writes it.
//   - SummaryUpdatedAt: when Summary was last recomputed (nil if never).
type Conversation struct {
	ID               int64          `json:"id"                 gorm:"primaryKey;autoIncrement"`
	TenantID         string         `json:"tenant_id"          gorm:"type:varchar(64);not null;index:idx_tenant_convs,priority:1"`
	UserID           string         `json:"user_id"            gorm:"type:varchar(64);not null;index:idx_tenant_convs,priority:2"`
	Title            string         `json:"title"              gorm:"type:varchar(255);not null;default:'New conversation'"`
	Status           string         `json:"status"             gorm:"type:varchar(16);not null;default:'active'"`
	Summary          string         `json:"summary,omitempty"  gorm:"type:text"`
	SummaryUpdatedAt *time.Time     `json:"summary_updated_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-"                  gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message author roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single utterance within a conversation, authored either by the
// "user" or the "assistant". Assistant messages carry the serialized answer
// payload produced for that turn.
type Message struct {
	ID             int64          `json:"id"              gorm:"primaryKey;autoIncrement"`
	TenantID       string         `json:"tenant_id"       gorm:"type:varchar(64);not null;index"`
	ConversationID int64          `json:"conversation_id" gorm:"not null;index:idx_conv_msgs,priority:1"`
	Role           string         `json:"role"            gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content        string         `json:"content"         gorm:"type:text;not null"`
	AnswerPayload  []byte         `json:"answer_payload,omitempty" gorm:"type:text"` // JSON, assistant rows only
	CreatedAt      time.Time      `json:"created_at"      gorm:"index:idx_conv_msgs,priority:2"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// SQL audit statuses.
const (
	SQLStatusSuccess = "success"
	SQLStatusError   = "error"
)

// SQLQuery is the append-only audit record for every SQL statement the
// pipeline attempted, whether it executed, failed, or was rejected by the
// guard. Rows are never rewritten; the only mutation is setting MessageID
// once the assistant message for the turn exists.
type SQLQuery struct {
	ID             int64     `json:"id"              gorm:"primaryKey;autoIncrement"`
	TenantID       string    `json:"tenant_id"       gorm:"type:varchar(64);not null;index"`
	ConversationID int64     `json:"conversation_id" gorm:"not null;index"`
	MessageID      *int64    `json:"message_id,omitempty"` // nil when the turn produced no assistant message
	SQLText        string    `json:"sql_text"        gorm:"type:text;not null"`
	Status         string    `json:"status"          gorm:"type:varchar(16);not null;check:status IN ('success','error')"`
	RowsReturned   int       `json:"rows_returned"`
	ErrorMessage   string    `json:"error_message,omitempty" gorm:"type:text"`
	DurationMs     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for SQLQuery.
func (SQLQuery) TableName() string { return "sql_queries" }

// TokenUsage aggregates the token consumption of all model sub-calls within
// one assistant turn. It is written once per turn; the single permitted
// mutation is the same-turn conversation-summary refresh, which rewrites the
// totals together with the persisted answer payload.
type TokenUsage struct {
	ID               int64     `json:"id"              gorm:"primaryKey;autoIncrement"`
	TenantID         string    `json:"tenant_id"       gorm:"type:varchar(64);not null;index"`
	ConversationID   int64     `json:"conversation_id" gorm:"not null;index"`
	MessageID        int64     `json:"message_id"      gorm:"not null;index"`
	UserID           string    `json:"user_id"         gorm:"type:varchar(64);not null"`
	Model            string    `json:"model"           gorm:"type:varchar(64);not null"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName returns the database table name for TokenUsage.
func (TokenUsage) TableName() string { return "token_usage" }

// QueryLog is best-effort telemetry written after a data turn completes.
// Failures writing it never affect the answer already sent.
type QueryLog struct {
	ID             int64     `json:"id"              gorm:"primaryKey;autoIncrement"`
	TenantID       string    `json:"tenant_id"       gorm:"type:varchar(64);not null;index"`
	ConversationID int64     `json:"conversation_id" gorm:"not null;index"`
	UserID         string    `json:"user_id"         gorm:"type:varchar(64);not null"`
	Question       string    `json:"question"        gorm:"type:text;not null"`
	Answer         string    `json:"answer"          gorm:"type:text"` // truncated
	SQLText        string    `json:"sql_text"        gorm:"type:text"`
	TotalTokens    int       `json:"total_tokens"`
	LatencyMs      int64     `json:"latency_ms"`
	RagUsed        bool      `json:"rag_used"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for QueryLog.
func (QueryLog) TableName() string { return "query_logs" }

// QuerySource is a rank-ordered descriptor of one retrieved knowledge-base
// passage attached to a QueryLog when retrieval was used and returned results.
type QuerySource struct {
	ID         int64     `json:"id"           gorm:"primaryKey;autoIncrement"`
	TenantID   string    `json:"tenant_id"    gorm:"type:varchar(64);not null;index"`
	QueryLogID int64     `json:"query_log_id" gorm:"not null;index"`
	Rank       int       `json:"rank"         gorm:"not null"`
	Title      string    `json:"title"        gorm:"type:varchar(255)"`
	Snippet    string    `json:"snippet"      gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`

	QueryLog QueryLog `json:"-" gorm:"foreignKey:QueryLogID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for QuerySource.
func (QuerySource) TableName() string { return "query_sources" }

// UserMemory is the singleton long-term memory row per (user, tenant).
// It is maintained by an external batch job; the pipeline only reads it.
type UserMemory struct {
	ID        int64     `json:"id"         gorm:"primaryKey;autoIncrement"`
	TenantID  string    `json:"tenant_id"  gorm:"type:varchar(64);not null;uniqueIndex:ux_memory_user,priority:1"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_memory_user,priority:2"`
	Summary   string    `json:"summary"    gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for UserMemory.
func (UserMemory) TableName() string { return "user_long_term_memory" }

// Idempotency represents a recorded outcome of a previously processed ask,
// keyed by (tenant_id, user_id, key). It lets clients retry POST /ask safely:
// a replayed key is answered from the recorded outcome instead of running the
// pipeline again.
type Idempotency struct {
	ID             string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	TenantID       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_tenant_user_key,priority:1"`
	UserID         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_tenant_user_key,priority:2"`
	Key            string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_tenant_user_key,priority:3"`
	ConversationID int64     `gorm:"type:INTEGER NOT NULL"`
	MessageID      int64     `gorm:"type:INTEGER NOT NULL"`
	Status         int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt      time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
