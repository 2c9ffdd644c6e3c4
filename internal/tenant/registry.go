// Package tenant resolves the caller's identity and tenant configuration and
// owns the per-tenant data-database connection pools. The resolver runs as a
// precondition gate before any persistence or model work; nothing downstream
// ever sees an unresolved principal.
package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Resolution errors, mapped by the HTTP layer onto the stable error taxonomy.
var (
	// ErrUnauthorized indicates a missing, malformed, or expired token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates a valid token whose principal may not use the
	// tenant (e.g. the tenant is suspended).
	ErrForbidden = errors.New("forbidden")

	// ErrTenantNotFound indicates the token names a tenant the directory
	// does not know.
	ErrTenantNotFound = errors.New("tenant not found")
)

// Tenant is one isolated customer account: its data database, vector
// collection, table allow-list, and row-level scope filter.
type Tenant struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	DataDSN          string   `json:"data_dsn"`
	DataDriver       string   `json:"data_driver"` // "postgres" or "sqlite"
	QdrantCollection string   `json:"qdrant_collection"`
	TableAllowList   []string `json:"table_allow_list"`
	ScopeFilter      string   `json:"scope_filter"` // SQL boolean expression, may be empty
	Suspended        bool     `json:"suspended"`
}

// Principal is the authenticated caller within a tenant.
type Principal struct {
	UserID   string
	TenantID string
	Role     string
}

// Registry is the in-process tenant directory, loaded once at startup.
// Lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

// NewRegistry builds a registry from a fixed tenant list (tests, embedding).
func NewRegistry(tenants []Tenant) *Registry {
	r := &Registry{tenants: make(map[string]Tenant, len(tenants))}
	for _, t := range tenants {
		r.tenants[t.ID] = t
	}
	return r
}

// LoadRegistry reads the tenant directory from a JSON file containing an
// array of Tenant objects.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tenant: read directory: %w", err)
	}
	var tenants []Tenant
	if err := json.Unmarshal(raw, &tenants); err != nil {
		return nil, fmt.Errorf("tenant: parse directory: %w", err)
	}
	for i, t := range tenants {
		if strings.TrimSpace(t.ID) == "" {
			return nil, fmt.Errorf("tenant: entry %d has no id", i)
		}
		if strings.TrimSpace(t.DataDSN) == "" {
			return nil, fmt.Errorf("tenant %q: data_dsn required", t.ID)
		}
	}
	return NewRegistry(tenants), nil
}

// Get returns the tenant configuration for id.
func (r *Registry) Get(id string) (Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[strings.TrimSpace(id)]
	if !ok {
		return Tenant{}, ErrTenantNotFound
	}
	return t, nil
}

// Resolve gates a principal against the directory: the tenant must exist and
// must not be suspended. It returns the tenant configuration on success.
func (r *Registry) Resolve(p Principal) (Tenant, error) {
	if strings.TrimSpace(p.UserID) == "" || strings.TrimSpace(p.TenantID) == "" {
		return Tenant{}, ErrUnauthorized
	}
	t, err := r.Get(p.TenantID)
	if err != nil {
		return Tenant{}, err
	}
	if t.Suspended {
		return Tenant{}, ErrForbidden
	}
	return t, nil
}
