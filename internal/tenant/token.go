package tenant

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the custom JWT claims carried by access tokens. Token issuance
// lives in the auth service; this side only validates.
type Claims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// ParsePrincipal validates an HS256 bearer token and extracts the principal.
// Every failure collapses to ErrUnauthorized; callers never need to
// distinguish token-parse failure modes.
func ParsePrincipal(tokenString, secret string) (Principal, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Principal{}, ErrUnauthorized
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return Principal{}, ErrUnauthorized
	}
	if strings.TrimSpace(claims.UserID) == "" || strings.TrimSpace(claims.TenantID) == "" {
		return Principal{}, ErrUnauthorized
	}

	return Principal{
		UserID:   claims.UserID,
		TenantID: claims.TenantID,
		Role:     claims.Role,
	}, nil
}
