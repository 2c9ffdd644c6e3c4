package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/datachat-labs/go-datachat-backend/internal/llm"
)

const translatorSystemPrompt = `You translate user questions into a single SQL SELECT statement.

Rules:
- Output only the SQL statement, no prose, no markdown.
- Use only the tables and columns listed in the schema.
- Always include an explicit LIMIT clause (at most %d rows).
- Never use comments, UNION, or more than one statement.

Schema:
%s`

// Translator turns a natural-language question plus assembled context
// into a candidate SQL statement.
type Translator struct {
	LLM     llm.Invoker
	MaxRows int
}

// Translate generates SQL for the question. The reply is stripped of
// markdown code fences before being returned; validity is the guard's
// concern, not the translator's.
func (t *Translator) Translate(ctx context.Context, schemaText, contextText, question string) (string, llm.Usage, error) {
	system := fmt.Sprintf(translatorSystemPrompt, t.MaxRows, schemaText)
	user := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, question)

	comp, err := t.LLM.Invoke(ctx, []llm.Message{llm.System(system), llm.User(user)})
	if err != nil {
		return "", comp.Usage, err
	}
	return StripCodeFences(comp.Content), comp.Usage, nil
}

// StripCodeFences removes a surrounding markdown code fence, with or
// without a language tag, and trims whitespace. Replies without fences
// pass through unchanged.
func StripCodeFences(s string) string {
	out := strings.TrimSpace(s)
	if !strings.HasPrefix(out, "```") {
		return out
	}
	out = strings.TrimPrefix(out, "```")
	if idx := strings.Index(out, "\n"); idx >= 0 {
		first := strings.TrimSpace(out[:idx])
		// A bare language tag like "sql" or "json" sits alone on the fence line.
		if first == "" || !strings.ContainsAny(first, " \t") && len(first) <= 10 {
			out = out[idx+1:]
		}
	}
	out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	return strings.TrimSpace(out)
}
