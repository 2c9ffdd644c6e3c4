package services

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
	"github.com/datachat-labs/go-datachat-backend/internal/llm"
	"github.com/datachat-labs/go-datachat-backend/internal/observability"
	"github.com/datachat-labs/go-datachat-backend/internal/tenant"
)

// Emitter receives intra-turn progress notifications. Progress values are
// percentages in [0,100] and never regress within one turn.
type Emitter interface {
	Status(message string, progress int)
	Progress(percent int)
}

// SchemaDescriber renders the tenant-visible schema as prompt text.
type SchemaDescriber interface {
	Describe(ctx context.Context, db *gorm.DB, tables []string) (string, error)
}

// turnState tags the pipeline's position within one turn. Transitions are
// driven exhaustively by Pipeline.Run; every step function returns the
// next state or a terminal error.
type turnState int

const (
	stateClassifying turnState = iota
	stateContextBuilding
	stateTranslating
	stateExecuting
	stateSummarizing
	stateChartBuilding
	stateAssembling
	stateNonDataResponding
	stateDone
)

// AskInput is one resolved, authenticated question.
type AskInput struct {
	Tenant         tenant.Tenant
	Principal      tenant.Principal
	DataDB         *gorm.DB
	ConversationID *int64
	Question       string
	UseRag         bool
}

// AskResult is the material for the terminal final event.
type AskResult struct {
	ConversationID int64
	Messages       []domain.Message
	Payload        *domain.AnswerPayload
}

// Pipeline wires the turn components together and drives the per-turn
// state machine.
type Pipeline struct {
	DB         *gorm.DB
	Schema     SchemaDescriber
	Classifier *Classifier
	Context    *ContextBuilder
	Translator *Translator
	Executor   *Executor
	Summarizer *Summarizer
	Chart      *ChartInferrer
	Assembler  *Assembler
	NonData    *NonDataResponder
	Locks      *tenant.ConversationLocks

	MaxQuestionRunes int
}

// turn carries the accumulated artifacts of one in-flight question.
type turn struct {
	p     *Pipeline
	in    AskInput
	emit  Emitter
	start time.Time

	setup   *TurnSetup
	usage   llm.Usage
	tc      TurnContext
	schema  string
	sql     string
	result  *QueryResult
	queryID int64
	answer  string
	chart   *domain.ChartSpec

	out *AskResult
}

// Run executes one turn. It returns either a result for the final event
// or a TurnError for the error event, never both. Panics anywhere in the
// pipeline are recovered and reported as the generic internal error.
func (p *Pipeline) Run(ctx context.Context, in AskInput, emit Emitter) (res *AskResult, terr *TurnError) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("tenant_id", in.Tenant.ID).Msg("pipeline panic recovered")
			res, terr = nil, Internal()
		}
	}()

	t := &turn{p: p, in: in, emit: emit, start: time.Now()}

	if in.ConversationID != nil {
		if !p.Locks.TryAcquire(*in.ConversationID) {
			return nil, NewTurnError(http.StatusConflict, CodeConversationBusy, "another question is already being answered in this conversation")
		}
		defer p.Locks.Release(*in.ConversationID)
	}

	if err := t.bootstrap(ctx); err != nil {
		return nil, err
	}
	if in.ConversationID == nil {
		id := t.setup.Conversation.ID
		if p.Locks.TryAcquire(id) {
			defer p.Locks.Release(id)
		}
	}

	state := stateClassifying
	for state != stateDone {
		var err *TurnError
		switch state {
		case stateClassifying:
			state = t.classify(ctx)
		case stateContextBuilding:
			state = t.buildContext(ctx)
		case stateTranslating:
			state, err = t.translate(ctx)
		case stateExecuting:
			state, err = t.execute(ctx)
		case stateSummarizing:
			state, err = t.summarize(ctx)
		case stateChartBuilding:
			state = t.buildChart(ctx)
		case stateAssembling:
			state, err = t.assemble(ctx)
		case stateNonDataResponding:
			state, err = t.respondNonData(ctx)
		}
		if err != nil {
			observability.RecordTurn(in.Tenant.ID, err.Code)
			return nil, err
		}
	}
	observability.RecordTurn(in.Tenant.ID, t.out.Payload.Status)
	observability.RecordTokens(in.Tenant.ID, t.usage.Input, t.usage.Output)
	return t.out, nil
}

func (t *turn) bootstrap(ctx context.Context) *TurnError {
	setup, err := Bootstrap(ctx, t.p.DB, t.in.Tenant.ID, t.in.Principal.UserID, t.in.ConversationID, t.in.Question, t.p.MaxQuestionRunes)
	switch {
	case err == nil:
		t.setup = setup
		t.emit.Status("Understanding your question", 5)
		return nil
	case err == ErrEmptyQuestion:
		return NewTurnError(http.StatusBadRequest, CodeInvalidRequest, "question must not be blank")
	case err == ErrQuestionTooLong:
		return NewTurnError(http.StatusBadRequest, CodeInvalidRequest, "question is too long")
	case err == ErrConversationNotFound:
		return NewTurnError(http.StatusNotFound, CodeConversationNotFound, "conversation not found")
	default:
		log.Error().Err(err).Str("tenant_id", t.in.Tenant.ID).Msg("conversation bootstrap failed")
		return Internal()
	}
}

func (t *turn) classify(ctx context.Context) turnState {
	isData, usage := t.p.Classifier.Classify(ctx, t.in.Question)
	t.usage = t.usage.Add(usage)
	if !isData {
		t.emit.Status("Writing a reply", 40)
		return stateNonDataResponding
	}
	t.emit.Status("Gathering context", 15)
	return stateContextBuilding
}

func (t *turn) buildContext(ctx context.Context) turnState {
	t.tc = t.p.Context.Build(ctx, t.p.DB, t.setup.Conversation, t.in.Tenant.QdrantCollection, t.in.Question, t.in.UseRag, t.setup.UserMessage.ID)
	t.emit.Status("Writing the query", 30)
	return stateTranslating
}

func (t *turn) translate(ctx context.Context) (turnState, *TurnError) {
	schemaText, err := t.p.Schema.Describe(ctx, t.in.DataDB, t.in.Tenant.TableAllowList)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", t.in.Tenant.ID).Msg("schema introspection failed")
		return stateDone, Internal()
	}
	t.schema = schemaText

	sql, usage, err := t.p.Translator.Translate(ctx, schemaText, t.tc.Text, t.in.Question)
	t.usage = t.usage.Add(usage)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", t.in.Tenant.ID).Msg("sql translation failed")
		return stateDone, Internal()
	}
	t.sql = sql
	t.emit.Status("Running the query", 50)
	return stateExecuting, nil
}

// execute guards, scopes, and runs the generated SQL. Guard rejections
// and execution failures both write an audit row and end the turn with
// SQL_EXECUTION_ERROR; the user message already persisted stays.
func (t *turn) execute(ctx context.Context) (turnState, *TurnError) {
	conv := t.setup.Conversation

	if err := GuardSQL(t.sql); err != nil {
		t.p.Executor.Audit(ctx, t.in.Tenant.ID, conv.ID, t.sql, err.Error())
		return stateDone, t.sqlError(err.Error())
	}
	// From here on t.sql is the scoped statement, so the error event and
	// the audit row both report what actually ran.
	t.sql = ScopeSQL(t.sql, t.in.Tenant.ScopeFilter)

	result, queryID, err := t.p.Executor.Execute(ctx, t.in.DataDB, t.in.Tenant.ID, conv.ID, t.sql)
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", t.in.Tenant.ID).Msg("sql execution failed")
		return stateDone, t.sqlError("query execution failed: " + err.Error())
	}
	t.result = result
	t.queryID = queryID
	t.emit.Status("Summarizing the results", 65)
	return stateSummarizing, nil
}

func (t *turn) summarize(ctx context.Context) (turnState, *TurnError) {
	answer, usage, err := t.p.Summarizer.Summarize(ctx, t.in.Question, t.result)
	t.usage = t.usage.Add(usage)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", t.in.Tenant.ID).Msg("answer summarization failed")
		return stateDone, Internal()
	}
	t.answer = answer
	t.emit.Progress(80)
	return stateChartBuilding, nil
}

func (t *turn) buildChart(ctx context.Context) turnState {
	chart, usage := t.p.Chart.Infer(ctx, t.in.Question, t.result)
	t.usage = t.usage.Add(usage)
	t.chart = chart
	t.emit.Status("Preparing your answer", 90)
	return stateAssembling
}

func (t *turn) assemble(ctx context.Context) (turnState, *TurnError) {
	msg, payload, err := t.p.Assembler.FinalizeData(ctx, &TurnArtifacts{
		Conversation: t.setup.Conversation,
		Question:     t.in.Question,
		SQL:          t.sql,
		SQLQueryID:   t.queryID,
		Result:       t.result,
		AnswerText:   t.answer,
		Chart:        t.chart,
		Rag:          t.tc.Rag,
		Passages:     t.tc.Passages,
		Usage:        t.usage,
		StartedAt:    t.start,
	})
	if err != nil {
		log.Error().Err(err).Str("tenant_id", t.in.Tenant.ID).Msg("turn persistence failed")
		return stateDone, Internal()
	}
	t.finish(msg, payload)
	return stateDone, nil
}

func (t *turn) respondNonData(ctx context.Context) (turnState, *TurnError) {
	reply, usage := t.p.NonData.Respond(ctx, t.in.Question)
	t.usage = t.usage.Add(usage)

	msg, payload, err := t.p.Assembler.FinalizeNonData(ctx, t.setup.Conversation, reply, t.usage)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", t.in.Tenant.ID).Msg("turn persistence failed")
		return stateDone, Internal()
	}
	t.finish(msg, payload)
	return stateDone, nil
}

func (t *turn) finish(msg *domain.Message, payload *domain.AnswerPayload) {
	t.out = &AskResult{
		ConversationID: t.setup.Conversation.ID,
		Messages:       []domain.Message{*t.setup.UserMessage, *msg},
		Payload:        payload,
	}
}

// sqlError builds the terminal SQL failure with the offending statement
// echoed back for diagnosis.
func (t *turn) sqlError(message string) *TurnError {
	return &TurnError{
		Status:  http.StatusBadRequest,
		Code:    CodeSQLExecutionError,
		Message: message,
		Extra: map[string]any{
			"sql":            t.sql,
			"conversationId": t.setup.Conversation.ID,
			"rag":            t.tc.Rag,
		},
	}
}
