// Package handlers defines the HTTP-layer error codes used across all API
// endpoints.
//
// The codes form a stable, machine-readable taxonomy that clients branch on;
// they are part of the wire contract and are never renamed. The same codes
// appear in JSON error envelopes (REST endpoints) and in the in-band `error`
// stream event (the ask endpoint), so a client needs exactly one switch.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "CONVERSATION_NOT_FOUND",
//	  "message": "conversation not found"
//	}
package handlers

import "github.com/datachat-labs/go-datachat-backend/internal/services"

// Stable error codes, shared with the pipeline's stream errors.
const (
	ErrCodeMethodNotAllowed     = services.CodeMethodNotAllowed
	ErrCodeUnauthorized         = services.CodeUnauthorized
	ErrCodeForbidden            = services.CodeForbidden
	ErrCodeTenantNotFound       = services.CodeTenantNotFound
	ErrCodeInvalidRequest       = services.CodeInvalidRequest
	ErrCodeConversationNotFound = services.CodeConversationNotFound
	ErrCodeConversationBusy     = services.CodeConversationBusy
	ErrCodeSQLExecutionError    = services.CodeSQLExecutionError
	ErrCodeInternal             = services.CodeInternal

	// Transport-only:
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeRateLimited = "RATE_LIMITED"
)
