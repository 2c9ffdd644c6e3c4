// Conversation HTTP handlers.
//
// This file exposes REST endpoints for browsing conversation history:
//   - GET /conversations                  (list, paginated, ETag support)
//   - GET /conversations/{id}/messages    (list messages, paginated, ETag support)
//
// Handlers are transport-thin: validate inputs, call the repository layer
// scoped to the authenticated (tenant, user), and translate results into
// HTTP responses with conditional-request support.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
	"github.com/datachat-labs/go-datachat-backend/internal/http/middleware"
	"github.com/datachat-labs/go-datachat-backend/internal/repo"
	"github.com/datachat-labs/go-datachat-backend/internal/utils"
)

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListConversationsResponse contains a page of conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// ListConversationMessagesResponse contains a page of messages.
type ListConversationMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses page/page_size query parameters, applying sane
// defaults and caps.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

func paginationMeta(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Handlers
//

// ListConversations returns a page of the caller's conversations, most
// recently updated first.
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	principal, okP := middleware.PrincipalFrom(c)
	ten, okT := middleware.TenantFrom(c)
	if !okP || !okT {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}

	// ETag pre-check (best effort).
	if count, maxTS, err := repo.ConversationsStats(ctx, h.DB, ten.ID, principal.UserID); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"conversations:%s:%s:%d:%d"`, ten.ID, principal.UserID, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page, pageSize := clampPagination(c)

	total, err := repo.CountConversations(ctx, h.DB, ten.ID, principal.UserID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to list conversations")
		return
	}
	items, err := repo.ListConversationsPage(ctx, h.DB, ten.ID, principal.UserID, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to list conversations")
		return
	}

	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    paginationMeta(page, pageSize, total),
	})
}

// ListConversationMessages returns a page of messages for one of the
// caller's conversations, oldest first.
func (h *Handlers) ListConversationMessages(c *gin.Context) {
	ctx := c.Request.Context()
	principal, okP := middleware.PrincipalFrom(c)
	ten, okT := middleware.TenantFrom(c)
	if !okP || !okT {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return
	}

	conversationID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidRequest, "conversation id must be numeric")
		return
	}

	// Ownership check before anything else leaks existence.
	if _, err := repo.GetConversation(ctx, h.DB, conversationID, ten.ID, principal.UserID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeConversationNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to load conversation")
		return
	}

	// ETag pre-check (best effort).
	if count, maxTS, err := repo.MessagesStats(ctx, h.DB, ten.ID, conversationID); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"messages:%d:%d:%d"`, conversationID, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page, pageSize := clampPagination(c)

	total, err := repo.CountMessages(ctx, h.DB, ten.ID, conversationID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to list messages")
		return
	}
	items, err := repo.ListMessagesPage(ctx, h.DB, ten.ID, conversationID, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to list messages")
		return
	}

	ok(c, http.StatusOK, ListConversationMessagesResponse{
		Messages:   items,
		Pagination: paginationMeta(page, pageSize, total),
	})
}
