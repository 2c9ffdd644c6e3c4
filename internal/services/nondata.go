package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/datachat-labs/go-datachat-backend/internal/llm"
)

const nonDataSystemPrompt = `The user said something that does not require querying data.
Reply in one or two friendly sentences, and remind them you can answer questions about their data.`

// nonDataFallback is the static reply used when the model call fails or
// returns nothing. A non-data turn always completes with some answer.
const nonDataFallback = "I'm here to help you explore your data. Ask me a question about it and I'll run the numbers for you."

// NonDataResponder produces the short conversational reply for questions
// the classifier routed away from the data pipeline.
type NonDataResponder struct {
	LLM llm.Invoker
}

// Respond returns the reply text and the usage of the call. It never
// fails: model errors and empty replies fall back to the static message.
func (r *NonDataResponder) Respond(ctx context.Context, question string) (string, llm.Usage) {
	comp, err := r.LLM.Invoke(ctx, []llm.Message{llm.System(nonDataSystemPrompt), llm.User(question)})
	if err != nil {
		log.Warn().Err(err).Msg("non-data reply call failed, using fallback")
		return nonDataFallback, comp.Usage
	}
	if reply := strings.TrimSpace(comp.Content); reply != "" {
		return reply, comp.Usage
	}
	return nonDataFallback, comp.Usage
}
