package services

import (
	"context"
	"net/http"
	"testing"

	"gorm.io/gorm"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
	"github.com/datachat-labs/go-datachat-backend/internal/llm"
	"github.com/datachat-labs/go-datachat-backend/internal/repo"
	"github.com/datachat-labs/go-datachat-backend/internal/schema"
	"github.com/datachat-labs/go-datachat-backend/internal/tenant"
)

// recordingEmitter captures every status and progress notification.
type recordingEmitter struct {
	statuses []string
	progress []int
}

func (e *recordingEmitter) Status(message string, progress int) {
	e.statuses = append(e.statuses, message)
	e.progress = append(e.progress, progress)
}

func (e *recordingEmitter) Progress(percent int) {
	e.progress = append(e.progress, percent)
}

func testTenant() tenant.Tenant {
	return tenant.Tenant{
		ID:               "acme",
		Name:             "Acme",
		QdrantCollection: "acme-kb",
		TableAllowList:   []string{"sales"},
		ScopeFilter:      "tenant_id = 'acme'",
	}
}

func newPipeline(db *gorm.DB, inv llm.Invoker) *Pipeline {
	return &Pipeline{
		DB:               db,
		Schema:           schema.Introspector{},
		Classifier:       &Classifier{LLM: inv},
		Context:          &ContextBuilder{RecentPairs: 3},
		Translator:       &Translator{LLM: inv, MaxRows: 100},
		Executor:         &Executor{AppDB: db},
		Summarizer:       &Summarizer{LLM: inv, SampleRows: 20},
		Chart:            &ChartInferrer{LLM: inv, MaxPoints: 500},
		Assembler:        &Assembler{DB: db, Model: "fake-model", MaxRows: 50, CSVThreshold: 1000},
		NonData:          &NonDataResponder{LLM: inv},
		Locks:            tenant.NewConversationLocks(),
		MaxQuestionRunes: 2000,
	}
}

func TestPipeline_DataTurn(t *testing.T) {
	db := newTestDB(t)
	dataDB := newDataDB(t)
	inv := &routingInvoker{t: t, routes: map[string]fakeReply{
		"requires querying a SQL database": {content: "YES", usage: llm.Usage{Input: 1, Output: 1, Total: 2}},
		"single SQL SELECT":                {content: "```sql\nSELECT date, region, revenue, tenant_id FROM sales LIMIT 100\n```", usage: llm.Usage{Input: 10, Output: 2, Total: 12}},
		"summarize SQL query results":      {content: `{"answerText": "Two days of revenue for acme."}`, usage: llm.Usage{Input: 20, Output: 5, Total: 25}},
	}}
	p := newPipeline(db, inv)
	emit := &recordingEmitter{}

	res, terr := p.Run(context.Background(), AskInput{
		Tenant:    testTenant(),
		Principal: tenant.Principal{UserID: "u1", TenantID: "acme"},
		DataDB:    dataDB,
		Question:  "revenue by date",
	}, emit)
	if terr != nil {
		t.Fatalf("Run: %+v", terr)
	}

	payload := res.Payload
	if payload.Status != domain.PayloadStatusComplete {
		t.Fatalf("status = %q", payload.Status)
	}
	if payload.AnswerText != "Two days of revenue for acme." {
		t.Fatalf("answer = %q", payload.AnswerText)
	}
	// Scoping keeps only the tenant's rows.
	if payload.Table.RowCount != 2 {
		t.Fatalf("row count = %d, want 2", payload.Table.RowCount)
	}
	if payload.Meta.SQL == "SELECT date, region, revenue, tenant_id FROM sales LIMIT 100" {
		t.Fatal("meta SQL should be the scoped statement")
	}
	if payload.Meta.SQLQueryID == 0 {
		t.Fatal("meta missing sql query id")
	}
	if payload.Meta.Tokens.Total != 39 {
		t.Fatalf("tokens = %+v, want fold of all three calls", payload.Meta.Tokens)
	}
	// date column plus a single numeric candidate yields a chart without a
	// model call.
	if payload.Chart == nil || payload.Chart.MetricKey != "revenue" || payload.Chart.DateKey != "date" {
		t.Fatalf("chart = %+v", payload.Chart)
	}

	if len(res.Messages) != 2 || res.Messages[0].Role != domain.RoleUser || res.Messages[1].Role != domain.RoleAssistant {
		t.Fatalf("messages = %+v", res.Messages)
	}
	if res.ConversationID == 0 {
		t.Fatal("conversation id missing")
	}

	for i := 1; i < len(emit.progress); i++ {
		if emit.progress[i] < emit.progress[i-1] {
			t.Fatalf("progress regressed: %v", emit.progress)
		}
	}
	if last := emit.progress[len(emit.progress)-1]; last != 90 {
		t.Fatalf("last progress = %d, want 90", last)
	}
}

func TestPipeline_NonDataTurn(t *testing.T) {
	db := newTestDB(t)
	inv := &routingInvoker{t: t, routes: map[string]fakeReply{
		"requires querying a SQL database": {content: "No.", usage: llm.Usage{Total: 2}},
		"does not require querying data":   {content: "Hi! Ask me about your data.", usage: llm.Usage{Total: 3}},
	}}
	p := newPipeline(db, inv)

	res, terr := p.Run(context.Background(), AskInput{
		Tenant:    testTenant(),
		Principal: tenant.Principal{UserID: "u1", TenantID: "acme"},
		Question:  "hello there",
	}, &recordingEmitter{})
	if terr != nil {
		t.Fatalf("Run: %+v", terr)
	}
	if res.Payload.Status != domain.PayloadStatusNonData {
		t.Fatalf("status = %q", res.Payload.Status)
	}
	if res.Payload.AnswerText != "Hi! Ask me about your data." {
		t.Fatalf("answer = %q", res.Payload.AnswerText)
	}
	if res.Payload.Meta.SQL != "" {
		t.Fatalf("meta = %+v", res.Payload.Meta)
	}
	if res.Payload.Meta.Tokens.Total != 5 {
		t.Fatalf("tokens = %+v", res.Payload.Meta.Tokens)
	}
}

func TestPipeline_GuardRejection(t *testing.T) {
	db := newTestDB(t)
	dataDB := newDataDB(t)
	inv := &routingInvoker{t: t, routes: map[string]fakeReply{
		"requires querying a SQL database": {content: "yes"},
		"single SQL SELECT":                {content: "DELETE FROM sales"},
	}}
	p := newPipeline(db, inv)

	res, terr := p.Run(context.Background(), AskInput{
		Tenant:    testTenant(),
		Principal: tenant.Principal{UserID: "u1", TenantID: "acme"},
		DataDB:    dataDB,
		Question:  "drop everything",
	}, &recordingEmitter{})
	if res != nil {
		t.Fatalf("res = %+v, want nil", res)
	}
	if terr == nil || terr.Code != CodeSQLExecutionError || terr.Status != http.StatusBadRequest {
		t.Fatalf("terr = %+v", terr)
	}
	if terr.Extra["sql"] != "DELETE FROM sales" {
		t.Fatalf("extra = %+v", terr.Extra)
	}
	convID, ok := terr.Extra["conversationId"].(int64)
	if !ok || convID == 0 {
		t.Fatalf("extra = %+v", terr.Extra)
	}

	// Rejected statement still audited.
	var audit domain.SQLQuery
	if err := db.Where("conversation_id = ?", convID).First(&audit).Error; err != nil {
		t.Fatalf("audit row: %v", err)
	}
	if audit.Status != domain.SQLStatusError || audit.SQLText != "DELETE FROM sales" {
		t.Fatalf("audit = %+v", audit)
	}

	// The user message survives the failed turn.
	msgs, err := repo.ListMessages(context.Background(), db, "acme", convID, 0)
	if err != nil || len(msgs) != 1 || msgs[0].Role != domain.RoleUser {
		t.Fatalf("messages = %+v (%v)", msgs, err)
	}
}

func TestPipeline_ExecutionFailure(t *testing.T) {
	db := newTestDB(t)
	dataDB := newDataDB(t)
	inv := &routingInvoker{t: t, routes: map[string]fakeReply{
		"requires querying a SQL database": {content: "yes"},
		"single SQL SELECT":                {content: "SELECT nope FROM missing LIMIT 5"},
	}}
	p := newPipeline(db, inv)

	_, terr := p.Run(context.Background(), AskInput{
		Tenant:    testTenant(),
		Principal: tenant.Principal{UserID: "u1", TenantID: "acme"},
		DataDB:    dataDB,
		Question:  "q",
	}, &recordingEmitter{})
	if terr == nil || terr.Code != CodeSQLExecutionError {
		t.Fatalf("terr = %+v", terr)
	}
	// The error event echoes the statement that actually ran, scope
	// wrap included, matching the audit row.
	wantSQL := "SELECT * FROM (SELECT nope FROM missing LIMIT 5) AS scoped_result WHERE (tenant_id = 'acme')"
	if terr.Extra["sql"] != wantSQL {
		t.Fatalf("extra sql = %q, want %q", terr.Extra["sql"], wantSQL)
	}
}

func TestPipeline_ConversationBusy(t *testing.T) {
	db := newTestDB(t)
	conv, _ := repo.CreateConversation(context.Background(), db, "acme", "u1", "t")
	p := newPipeline(db, &routingInvoker{t: t, routes: map[string]fakeReply{}})
	if !p.Locks.TryAcquire(conv.ID) {
		t.Fatal("setup lock")
	}
	defer p.Locks.Release(conv.ID)

	_, terr := p.Run(context.Background(), AskInput{
		Tenant:         testTenant(),
		Principal:      tenant.Principal{UserID: "u1", TenantID: "acme"},
		ConversationID: &conv.ID,
		Question:       "q",
	}, &recordingEmitter{})
	if terr == nil || terr.Code != CodeConversationBusy || terr.Status != http.StatusConflict {
		t.Fatalf("terr = %+v", terr)
	}
}

func TestPipeline_Validation(t *testing.T) {
	db := newTestDB(t)
	p := newPipeline(db, &routingInvoker{t: t, routes: map[string]fakeReply{}})

	_, terr := p.Run(context.Background(), AskInput{
		Tenant:    testTenant(),
		Principal: tenant.Principal{UserID: "u1", TenantID: "acme"},
		Question:  "   ",
	}, &recordingEmitter{})
	if terr == nil || terr.Code != CodeInvalidRequest {
		t.Fatalf("terr = %+v", terr)
	}

	missing := int64(99999)
	_, terr = p.Run(context.Background(), AskInput{
		Tenant:         testTenant(),
		Principal:      tenant.Principal{UserID: "u1", TenantID: "acme"},
		ConversationID: &missing,
		Question:       "q",
	}, &recordingEmitter{})
	if terr == nil || terr.Code != CodeConversationNotFound || terr.Status != http.StatusNotFound {
		t.Fatalf("terr = %+v", terr)
	}
}
