package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/datachat-labs/go-datachat-backend/internal/llm"
)

const classifierSystemPrompt = `You decide whether a user question requires querying a SQL database to answer.
Answer with a single word: YES if the question asks about data, metrics, records, or anything answerable from a database, NO otherwise.
Do not explain.`

// Classifier decides whether a question needs the data pipeline or a
// plain conversational reply.
type Classifier struct {
	LLM llm.Invoker
}

// Classify returns true when the question should go through SQL
// generation. Any model error or unparseable reply routes the question to
// the data pipeline.
func (c *Classifier) Classify(ctx context.Context, question string) (bool, llm.Usage) {
	comp, err := c.LLM.Invoke(ctx, []llm.Message{
		llm.System(classifierSystemPrompt),
		llm.User(question),
	})
	if err != nil {
		log.Warn().Err(err).Msg("classifier call failed, assuming data question")
		return true, comp.Usage
	}

	token := leadingToken(comp.Content)
	switch token {
	case "yes":
		return true, comp.Usage
	case "no":
		return false, comp.Usage
	default:
		log.Warn().Str("reply", truncateForLog(comp.Content, 80)).Msg("classifier reply unparseable, assuming data question")
		return true, comp.Usage
	}
}

// leadingToken extracts the first word of a reply, lowercased and
// stripped of punctuation, so "YES." and "no," still parse.
func leadingToken(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(fields[0], ".,:;!\"'"))
}

func truncateForLog(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
