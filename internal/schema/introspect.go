// Package schema produces the tenant-scoped table/column description text
// handed to the SQL translation step. Introspection goes through GORM's
// migrator so it works unchanged across the supported data-database drivers,
// and only tables on the tenant's allow-list are ever described.
package schema

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Describer is the collaborator contract consumed by the pipeline.
type Describer interface {
	// Describe returns a plain-text schema description of the allow-listed
	// tables in the given data database.
	Describe(ctx context.Context, db *gorm.DB, tables []string) (string, error)
}

// Introspector implements Describer using the database's own metadata.
type Introspector struct{}

// Describe renders one block per table:
//
//	TABLE orders (
//	  id bigint
//	  customer_name text
//	  total numeric
//	)
//
// Tables that cannot be introspected are skipped; an error is returned only
// when no table could be described at all.
func (Introspector) Describe(ctx context.Context, db *gorm.DB, tables []string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("schema: nil database")
	}
	migrator := db.WithContext(ctx).Migrator()

	var (
		blocks  []string
		lastErr error
	)
	for _, table := range tables {
		table = strings.TrimSpace(table)
		if table == "" {
			continue
		}
		columns, err := migrator.ColumnTypes(table)
		if err != nil {
			lastErr = err
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "TABLE %s (\n", table)
		for _, col := range columns {
			typeName := col.DatabaseTypeName()
			if ct, ok := col.ColumnType(); ok && ct != "" {
				typeName = ct
			}
			fmt.Fprintf(&b, "  %s %s\n", col.Name(), strings.ToLower(typeName))
		}
		b.WriteString(")")
		blocks = append(blocks, b.String())
	}

	if len(blocks) == 0 {
		if lastErr != nil {
			return "", fmt.Errorf("schema: describe tables: %w", lastErr)
		}
		return "", fmt.Errorf("schema: no tables to describe")
	}
	return strings.Join(blocks, "\n\n"), nil
}
