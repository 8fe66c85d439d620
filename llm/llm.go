// Package llm defines a minimal text-generation interface and shared
// request/response types. Provider adapters live in the subpackages
// llm/openai, llm/anthropic, and llm/google; llm/mock provides a scripted
// model for tests.
package llm

import "context"

// Role identifies the author of a chat message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation sent to a model.
type Message struct {
	Role    Role
	Content string
}

// Request describes a single generation call.
type Request struct {
	// System is the system prompt. Providers that take the system prompt
	// out of band (Anthropic, Gemini) extract it themselves.
	System string

	// Messages is the conversation so far, oldest first.
	Messages []Message

	// Temperature, when positive, overrides the provider default.
	Temperature float64

	// MaxTokens caps the response length. Zero uses a provider default.
	MaxTokens int

	// JSONOnly asks the provider for a JSON object response where the
	// API supports enforcing it; other providers rely on the prompt.
	JSONOnly bool
}

// Response is the model's reply.
type Response struct {
	Text string

	// TokensUsed is the total prompt plus completion tokens, 0 when the
	// provider does not report usage.
	TokensUsed int
}

// Model generates text. Implementations must be safe for concurrent use and
// must honor context cancellation.
type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
