package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
	"github.com/datachat-labs/go-datachat-backend/internal/rag"
	"github.com/datachat-labs/go-datachat-backend/internal/repo"
)

func TestContextBuilder_AllBlocksEmpty(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv, _ := repo.CreateConversation(ctx, db, "acme", "u1", "t")

	b := &ContextBuilder{RecentPairs: 2}
	tc := b.Build(ctx, db, conv, "col", "q", false, 0)
	if tc.Text != "no additional context" {
		t.Fatalf("text = %q; want the placeholder", tc.Text)
	}
	if tc.Rag.Requested || tc.Rag.Used {
		t.Fatalf("rag block should be inert: %+v", tc.Rag)
	}
}

func TestContextBuilder_MemorySummaryAndHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv, _ := repo.CreateConversation(ctx, db, "acme", "u1", "t")
	conv.Summary = "User analyses monthly revenue."

	if err := db.Create(&domain.UserMemory{TenantID: "acme", UserID: "u1", Summary: "Prefers charts."}).Error; err != nil {
		t.Fatalf("seed memory: %v", err)
	}

	// Two completed pairs plus the current user message.
	mustMsg := func(role, content string) *domain.Message {
		m, err := repo.CreateMessage(ctx, db, "acme", conv.ID, role, content, nil)
		if err != nil {
			t.Fatalf("seed message: %v", err)
		}
		return m
	}
	mustMsg(domain.RoleUser, "q1")
	mustMsg(domain.RoleAssistant, "a1")
	mustMsg(domain.RoleUser, "q2")
	mustMsg(domain.RoleAssistant, "a2")
	current := mustMsg(domain.RoleUser, "q3")

	b := &ContextBuilder{RecentPairs: 1}
	tc := b.Build(ctx, db, conv, "col", "q3", false, current.ID)

	if !strings.Contains(tc.Text, "What we know about this user:\nPrefers charts.") {
		t.Fatalf("memory block missing:\n%s", tc.Text)
	}
	if !strings.Contains(tc.Text, "Conversation so far:\nUser analyses monthly revenue.") {
		t.Fatalf("summary block missing:\n%s", tc.Text)
	}
	// Only the last pair survives RecentPairs=1, and the current turn's
	// message is excluded.
	if !strings.Contains(tc.Text, "Q: q2\nA: a2") {
		t.Fatalf("history block missing latest pair:\n%s", tc.Text)
	}
	if strings.Contains(tc.Text, "Q: q1") || strings.Contains(tc.Text, "q3") {
		t.Fatalf("history block has too much:\n%s", tc.Text)
	}
	if !strings.Contains(tc.Text, "\n---\n") {
		t.Fatalf("blocks not joined with separator:\n%s", tc.Text)
	}
}

func TestContextBuilder_RagUsed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv, _ := repo.CreateConversation(ctx, db, "acme", "u1", "t")

	b := &ContextBuilder{
		Retriever: &fakeRetriever{passages: []rag.Passage{
			{Content: "Revenue is recognized at delivery.", Title: "policy.md", Score: 0.9},
			{Content: "Fiscal year starts in February.", Title: "calendar.md", Score: 0.7},
		}},
	}
	tc := b.Build(ctx, db, conv, "acme-kb", "when is revenue recognized", true, 0)

	if !tc.Rag.Requested || !tc.Rag.Used {
		t.Fatalf("rag flags = %+v", tc.Rag)
	}
	if len(tc.Passages) != 2 {
		t.Fatalf("passages = %d", len(tc.Passages))
	}
	if !strings.Contains(tc.Text, "Relevant documentation:") || !strings.Contains(tc.Text, "[1] Revenue is recognized at delivery.") {
		t.Fatalf("passage block missing:\n%s", tc.Text)
	}
}

func TestContextBuilder_RagFailureDegrades(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv, _ := repo.CreateConversation(ctx, db, "acme", "u1", "t")

	b := &ContextBuilder{Retriever: &fakeRetriever{err: errors.New("qdrant down:\n  dial tcp refused")}}
	tc := b.Build(ctx, db, conv, "acme-kb", "q", true, 0)

	if !tc.Rag.Requested || tc.Rag.Used {
		t.Fatalf("rag flags = %+v", tc.Rag)
	}
	// The underlying error is carried in the rag block, flattened to one line.
	if tc.Rag.Error != "qdrant down: dial tcp refused" {
		t.Fatalf("rag error = %q", tc.Rag.Error)
	}
	if tc.Text != "no additional context" {
		t.Fatalf("turn should proceed with placeholder context, got %q", tc.Text)
	}
}

func TestContextBuilder_RagNotRequested(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	conv, _ := repo.CreateConversation(ctx, db, "acme", "u1", "t")

	called := &fakeRetriever{passages: []rag.Passage{{Content: "x"}}}
	b := &ContextBuilder{Retriever: called}
	tc := b.Build(ctx, db, conv, "acme-kb", "q", false, 0)
	if tc.Rag.Requested || tc.Rag.Used || len(tc.Passages) != 0 {
		t.Fatalf("retrieval ran without being requested: %+v", tc.Rag)
	}
}
