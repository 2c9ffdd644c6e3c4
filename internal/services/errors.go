// Package services implements the conversational query pipeline: the chain
// of steps that turns one user question into one executed, scoped, logged,
// and summarized answer. This file centralizes the stable error taxonomy
// surfaced to clients through the streaming error event.
package services

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes. Clients branch on these; never rename them.
const (
	CodeMethodNotAllowed     = "METHOD_NOT_ALLOWED"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeTenantNotFound       = "TENANT_NOT_FOUND"
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	CodeConversationBusy     = "CONVERSATION_BUSY"
	CodeSQLExecutionError    = "SQL_EXECUTION_ERROR"
	CodeInternal             = "INTERNAL_SERVER_ERROR"
)

// Service-level sentinels returned by pipeline components and translated to
// TurnError at the orchestration boundary.
var (
	// ErrEmptyQuestion is returned when the inbound question is blank.
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrQuestionTooLong is returned when the question exceeds the
	// configured rune limit.
	ErrQuestionTooLong = errors.New("question too long")

	// ErrConversationNotFound indicates the conversation does not exist or
	// is not accessible to the current user within their tenant.
	ErrConversationNotFound = errors.New("conversation not found")
)

// TurnError is the typed failure carried to the streaming transport. It
// holds the HTTP status set before the stream's error event is written,
// the stable code, and optional extra context echoed to the client
// (e.g. the offending SQL).
type TurnError struct {
	Status  int
	Code    string
	Message string
	Extra   map[string]any
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewTurnError builds a TurnError without extra context.
func NewTurnError(status int, code, message string) *TurnError {
	return &TurnError{Status: status, Code: code, Message: message}
}

// Internal wraps an unexpected failure into the generic terminal error.
// The underlying detail is logged by the caller, never echoed to clients.
func Internal() *TurnError {
	return NewTurnError(http.StatusInternalServerError, CodeInternal, "an unexpected error occurred")
}
