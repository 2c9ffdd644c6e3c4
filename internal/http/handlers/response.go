// Package handlers provides the HTTP handler implementations for the public
// API.
//
// This file defines the standard response utilities used across the REST
// endpoints: structured error envelopes, consistent JSON serialization, and
// helpers for common patterns. The ask endpoint streams and has its own
// in-band error path (see ask_handler.go); everything else goes through
// fail() and ok() so responses stay uniform.
//
// Conventions:
//   - All error responses return an ErrorResponse with a stable `code`.
//   - fail() centralizes error logging and formatting; 5xx responses are
//     logged with request context.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/datachat-labs/go-datachat-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by REST endpoints.
//
// Fields:
//   - RequestID: correlation id echoed from the X-Request-ID header.
//   - Code: a stable, machine-readable string (see errors.go constants).
//   - Message: a human-readable description, safe to show to users.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// fail aborts the request with a structured error and logs server-side
// errors with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail(), used by router-level handlers
// (404/405) that live outside this package's endpoint methods.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
