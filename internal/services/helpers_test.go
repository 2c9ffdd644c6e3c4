package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/datachat-labs/go-datachat-backend/internal/llm"
	"github.com/datachat-labs/go-datachat-backend/internal/rag"
	"github.com/datachat-labs/go-datachat-backend/internal/repo"
)

// fakeInvoker scripts model replies per call. Each Invoke pops the next
// scripted reply; running past the script fails the test.
type fakeInvoker struct {
	t       *testing.T
	replies []fakeReply
	calls   [][]llm.Message
}

type fakeReply struct {
	content string
	usage   llm.Usage
	err     error
}

func (f *fakeInvoker) Invoke(_ context.Context, messages []llm.Message) (llm.Completion, error) {
	f.calls = append(f.calls, messages)
	if len(f.replies) == 0 {
		f.t.Fatalf("unexpected model call: %q", messages[len(messages)-1].Content)
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	if r.err != nil {
		return llm.Completion{}, r.err
	}
	return llm.Completion{Content: r.content, Usage: r.usage}, nil
}

func (f *fakeInvoker) Model() string { return "fake-model" }

// routingInvoker dispatches on a substring of the system prompt so one
// fake can serve every pipeline step in an end-to-end run.
type routingInvoker struct {
	t      *testing.T
	routes map[string]fakeReply // system-prompt substring -> reply
}

func (r *routingInvoker) Invoke(_ context.Context, messages []llm.Message) (llm.Completion, error) {
	system := ""
	if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
		system = messages[0].Content
	}
	for key, reply := range r.routes {
		if strings.Contains(system, key) {
			if reply.err != nil {
				return llm.Completion{}, reply.err
			}
			return llm.Completion{Content: reply.content, Usage: reply.usage}, nil
		}
	}
	r.t.Fatalf("no route for system prompt: %q", system)
	return llm.Completion{}, nil
}

func (r *routingInvoker) Model() string { return "fake-model" }

// fakeRetriever returns fixed passages or a fixed error.
type fakeRetriever struct {
	passages []rag.Passage
	err      error
}

func (f *fakeRetriever) Retrieve(_ context.Context, _, _ string) ([]rag.Passage, error) {
	return f.passages, f.err
}

var testDBSeq int

// newTestDB opens a fresh in-memory application database with the full
// schema migrated.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:svc%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// newDataDB opens a fresh in-memory tenant data database seeded with a
// small sales table.
func newDataDB(t *testing.T) *gorm.DB {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:data%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	stmts := []string{
		`CREATE TABLE sales (date TEXT, region TEXT, revenue REAL, tenant_id TEXT)`,
		`INSERT INTO sales VALUES ('2026-01-01','north',100.5,'acme')`,
		`INSERT INTO sales VALUES ('2026-01-02','south',200.25,'acme')`,
		`INSERT INTO sales VALUES ('2026-01-03','north',50,'other')`,
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			t.Fatalf("seed data db: %v", err)
		}
	}
	return db
}
