package agent

import "context"

// QueryAgent turns a combined prompt into a natural-language answer.
// Implementations reach the datasets only through a Toolbox.
type QueryAgent interface {
	// Answer blocks until the agent produces an answer or fails.
	Answer(ctx context.Context, prompt string) (string, error)
}

// Ensure the backends implement QueryAgent.
var (
	_ QueryAgent = (*OpenAIAgent)(nil)
	_ QueryAgent = (*AnthropicAgent)(nil)
	_ QueryAgent = (*GeminiAgent)(nil)
	_ QueryAgent = (*RemoteAgent)(nil)
	_ QueryAgent = (*Service)(nil)
)
