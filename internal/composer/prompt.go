package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/deskmate/internal/engine"
	"github.com/kalambet/deskmate/internal/retrieval"
)

// Rough token estimate used to keep prompts inside the model's window.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// contextTokenBudget caps the evidence block. Chunks past the budget are
// dropped, never truncated mid-chunk, so citation numbers always refer to
// complete passages.
const contextTokenBudget = 2400

const groundedSystemPrompt = `You are an internal helpdesk agent.
Answer the employee's question using the provided context passages.
Cite passages by their number, like [1] or [2], where they support your answer.
If the context is not quite enough, supplement carefully with general knowledge
and say "please confirm the exact policy on the internal portal".`

const generalSystemPrompt = `You are an internal helpdesk agent.
The internal knowledge base has nothing on this question, so answer from
general knowledge, and say so when the answer may differ at this company.`

const insufficientInfo = "I don't have enough information in the internal knowledge base to answer that reliably. Try rephrasing, or check the internal portal."

// InsufficientInfo is the fixed reply used when retrieval scores too low to
// ground an answer.
func InsufficientInfo() string {
	return insufficientInfo
}

// Grounded builds the generation request for a question with retrieved
// evidence. Chunks are numbered [1]..[n] in rank order; the returned slice
// of chunks is exactly those that made it into the prompt, for citation.
func Grounded(question string, chunks []retrieval.ScoredChunk, turns []engine.Message) ([]engine.Message, []retrieval.ScoredChunk) {
	var sb strings.Builder
	var used []retrieval.ScoredChunk
	budget := contextTokenBudget
	for _, c := range chunks {
		block := fmt.Sprintf("[%d] (%s, %s)\n%s\n\n", len(used)+1, c.DocID, c.Position, c.Text)
		cost := EstimateTokens(block)
		if cost > budget && len(used) > 0 {
			break
		}
		sb.WriteString(block)
		used = append(used, c)
		budget -= cost
	}

	user := fmt.Sprintf("Question:\n%s\n\nContext:\n%s", question, strings.TrimSpace(sb.String()))

	messages := make([]engine.Message, 0, len(turns)+2)
	messages = append(messages, engine.Message{Role: "system", Content: groundedSystemPrompt})
	messages = append(messages, turns...)
	messages = append(messages, engine.Message{Role: "user", Content: user})
	return messages, used
}

// General builds the generation request for a question with no usable
// evidence.
func General(question string, turns []engine.Message) []engine.Message {
	messages := make([]engine.Message, 0, len(turns)+2)
	messages = append(messages, engine.Message{Role: "system", Content: generalSystemPrompt})
	messages = append(messages, turns...)
	messages = append(messages, engine.Message{Role: "user", Content: question})
	return messages
}
