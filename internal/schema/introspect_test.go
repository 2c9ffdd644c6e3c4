package schema

import (
	"context"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestDescribe(t *testing.T) {
	db := newDB(t, "schema1")
	stmts := []string{
		`CREATE TABLE sales (id INTEGER PRIMARY KEY, region TEXT, revenue REAL)`,
		`CREATE TABLE visits (day TEXT, count INTEGER)`,
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	out, err := Introspector{}.Describe(context.Background(), db, []string{"sales", "visits"})
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if !strings.Contains(out, "TABLE sales (") || !strings.Contains(out, "TABLE visits (") {
		t.Fatalf("output missing table blocks:\n%s", out)
	}
	if !strings.Contains(out, "region") || !strings.Contains(out, "revenue") {
		t.Fatalf("output missing columns:\n%s", out)
	}
}

func TestDescribe_AllowListFilters(t *testing.T) {
	db := newDB(t, "schema2")
	if err := db.Exec(`CREATE TABLE sales (id INTEGER)`).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := db.Exec(`CREATE TABLE secrets (token TEXT)`).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	out, err := Introspector{}.Describe(context.Background(), db, []string{"sales"})
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if strings.Contains(out, "secrets") {
		t.Fatalf("allow list leaked:\n%s", out)
	}
}

func TestDescribe_Errors(t *testing.T) {
	if _, err := (Introspector{}).Describe(context.Background(), nil, nil); err == nil {
		t.Fatal("nil db should error")
	}

	db := newDB(t, "schema3")
	if _, err := (Introspector{}).Describe(context.Background(), db, []string{"missing"}); err == nil {
		t.Fatal("no describable tables should error")
	}
}
