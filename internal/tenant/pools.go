package tenant

import (
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Pools is the tenant-keyed registry of data-database connection pools.
// Pools are created lazily on first use, reused for the process lifetime,
// and never torn down mid-process. The registry is owned by the dependency
// injection root and passed explicitly to the components that execute SQL;
// there is no ambient global state.
type Pools struct {
	mu    sync.Mutex
	pools map[string]*gorm.DB
}

// NewPools builds an empty pool registry.
func NewPools() *Pools {
	return &Pools{pools: make(map[string]*gorm.DB)}
}

// Get returns the pool for a tenant, opening it on first access.
func (p *Pools) Get(t Tenant) (*gorm.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.pools[t.ID]; ok {
		return db, nil
	}

	db, err := openDataDB(t)
	if err != nil {
		return nil, err
	}
	p.pools[t.ID] = db
	return db, nil
}

// Put registers a pre-built pool for a tenant (tests inject in-memory DBs).
func (p *Pools) Put(tenantID string, db *gorm.DB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pools[tenantID] = db
}

// openDataDB opens the tenant's data database with conservative pool limits.
// The driver is chosen from the tenant configuration, defaulting by DSN shape.
func openDataDB(t Tenant) (*gorm.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(t.DataDriver))
	if driver == "" {
		if strings.HasPrefix(t.DataDSN, "postgres://") || strings.Contains(t.DataDSN, "host=") {
			driver = "postgres"
		} else {
			driver = "sqlite"
		}
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(t.DataDSN), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(t.DataDSN), &gorm.Config{})
	default:
		return nil, fmt.Errorf("tenant %q: unsupported data driver %q", t.ID, driver)
	}
	if err != nil {
		return nil, fmt.Errorf("tenant %q: open data db: %w", t.ID, err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}
