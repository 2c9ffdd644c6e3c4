package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/datachat-labs/go-datachat-backend/internal/domain"
	"github.com/datachat-labs/go-datachat-backend/internal/rag"
	"github.com/datachat-labs/go-datachat-backend/internal/repo"
)

// noContextPlaceholder is sent to the model when every context block is
// empty, so the prompt shape stays constant.
const noContextPlaceholder = "no additional context"

// ragErrorMax caps the retrieval error text echoed in rag metadata.
const ragErrorMax = 200

// retrievalErrorText flattens a retrieval error into one bounded line
// suitable for the payload's rag block.
func retrievalErrorText(err error) string {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if msg == "" {
		return "retrieval unavailable"
	}
	if len(msg) > ragErrorMax {
		msg = msg[:ragErrorMax]
	}
	return msg
}

// PassageRetriever abstracts the retrieval layer so the builder can be
// tested without a vector store.
type PassageRetriever interface {
	Retrieve(ctx context.Context, collection, question string) ([]rag.Passage, error)
}

// ContextBuilder assembles the auxiliary context handed to the SQL
// translator and the summarizer: long-term memory, the rolling
// conversation summary, recent question/answer pairs, and optional
// retrieved passages.
type ContextBuilder struct {
	Retriever   PassageRetriever
	RecentPairs int
}

// TurnContext is the assembled context for one turn. Passages are kept
// alongside the flattened text so the assembler can report sources.
type TurnContext struct {
	Text     string
	Rag      domain.RagBlock
	Passages []rag.Passage
}

// Build assembles the context blocks. Every block is fault tolerant: a
// failed lookup is logged and skipped, and a retrieval failure is
// recorded on the RagBlock without aborting the turn. The turn proceeds
// with whatever context survived.
func (b *ContextBuilder) Build(ctx context.Context, db *gorm.DB, conv *domain.Conversation, collection, question string, useRag bool, currentMessageID int64) TurnContext {
	var blocks []string

	memory, err := repo.GetUserMemory(ctx, db, conv.TenantID, conv.UserID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", conv.UserID).Msg("user memory lookup failed, skipping block")
	} else if memory != "" {
		blocks = append(blocks, "What we know about this user:\n"+memory)
	}

	if s := strings.TrimSpace(conv.Summary); s != "" {
		blocks = append(blocks, "Conversation so far:\n"+s)
	}

	if history := b.historyBlock(ctx, db, conv, currentMessageID); history != "" {
		blocks = append(blocks, history)
	}

	tc := TurnContext{Rag: domain.RagBlock{Requested: useRag, Sources: []domain.RagSource{}}}
	if useRag && b.Retriever != nil {
		passages, err := b.Retriever.Retrieve(ctx, collection, question)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("collection", collection).Msg("retrieval failed, continuing without passages")
			tc.Rag.Error = retrievalErrorText(err)
		case len(passages) > 0:
			tc.Rag.Used = true
			tc.Passages = passages
			blocks = append(blocks, passagesBlock(passages))
		}
	}

	if len(blocks) == 0 {
		tc.Text = noContextPlaceholder
		return tc
	}
	tc.Text = strings.Join(blocks, "\n---\n")
	return tc
}

// historyBlock renders the most recent completed question/answer pairs,
// excluding the user message of the current turn. Lookup failures are
// tolerated and yield an empty block.
func (b *ContextBuilder) historyBlock(ctx context.Context, db *gorm.DB, conv *domain.Conversation, currentMessageID int64) string {
	if b.RecentPairs <= 0 {
		return ""
	}
	msgs, err := repo.ListMessages(ctx, db, conv.TenantID, conv.ID, 0)
	if err != nil {
		log.Warn().Err(err).Int64("conversation_id", conv.ID).Msg("history lookup failed, skipping block")
		return ""
	}

	type pair struct{ q, a string }
	var pairs []pair
	for i := 0; i < len(msgs); i++ {
		if msgs[i].ID == currentMessageID || msgs[i].Role != domain.RoleUser {
			continue
		}
		if i+1 < len(msgs) && msgs[i+1].Role == domain.RoleAssistant {
			pairs = append(pairs, pair{q: msgs[i].Content, a: msgs[i+1].Content})
			i++
		}
	}
	if len(pairs) > b.RecentPairs {
		pairs = pairs[len(pairs)-b.RecentPairs:]
	}
	if len(pairs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Recent exchanges:")
	for _, p := range pairs {
		fmt.Fprintf(&sb, "\nQ: %s\nA: %s", p.q, p.a)
	}
	return sb.String()
}

func passagesBlock(passages []rag.Passage) string {
	var sb strings.Builder
	sb.WriteString("Relevant documentation:")
	for i, p := range passages {
		fmt.Fprintf(&sb, "\n[%d] %s", i+1, p.Content)
	}
	return sb.String()
}
