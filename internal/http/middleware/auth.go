// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication and tenant resolution.
// It validates the Authorization header, extracts the caller's principal
// (user id, tenant id, role) from the signed token, resolves the tenant's
// configuration from the registry, and stashes both in the Gin context so
// handlers never touch raw tokens.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/datachat-labs/go-datachat-backend/internal/tenant"
)

// Context keys used to stash the resolved identity.
const (
	ctxKeyPrincipal = "auth.principal"
	ctxKeyTenant    = "auth.tenant"
)

// AuthErrorWriter renders an authentication failure. The router supplies
// the JSON envelope writer so this package stays free of response-shape
// concerns.
type AuthErrorWriter func(c *gin.Context, status int, code, message string)

// PrincipalFrom returns the authenticated principal stored by Auth.
func PrincipalFrom(c *gin.Context) (tenant.Principal, bool) {
	v, ok := c.Get(ctxKeyPrincipal)
	if !ok {
		return tenant.Principal{}, false
	}
	p, ok := v.(tenant.Principal)
	return p, ok
}

// TenantFrom returns the resolved tenant stored by Auth.
func TenantFrom(c *gin.Context) (tenant.Tenant, bool) {
	v, ok := c.Get(ctxKeyTenant)
	if !ok {
		return tenant.Tenant{}, false
	}
	t, ok := v.(tenant.Tenant)
	return t, ok
}

// Auth validates the bearer token and resolves the caller's tenant. On
// failure it aborts with one of the stable auth codes; on success it
// stores the principal and tenant for downstream handlers.
func Auth(registry *tenant.Registry, secret string, writeErr AuthErrorWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			writeErr(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			c.Abort()
			return
		}

		p, err := tenant.ParsePrincipal(raw, secret)
		if err != nil {
			writeErr(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			c.Abort()
			return
		}

		t, err := registry.Resolve(p)
		if err != nil {
			status, code, msg := authFailure(err)
			writeErr(c, status, code, msg)
			c.Abort()
			return
		}

		c.Set(ctxKeyPrincipal, p)
		c.Set(ctxKeyTenant, t)
		// Expose the user id for logging and rate-limit keying.
		c.Set("userID", p.UserID)
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func authFailure(err error) (int, string, string) {
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		return http.StatusForbidden, "TENANT_NOT_FOUND", "tenant not found"
	case errors.Is(err, tenant.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "tenant access denied"
	default:
		return http.StatusUnauthorized, "UNAUTHORIZED", "authentication failed"
	}
}
