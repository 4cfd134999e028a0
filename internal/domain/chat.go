package domain

// ChatMessage is the provider-agnostic chat message shape used by the handler
// and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOptions tune a single completion call, mirroring the gateway request
// fields. The conversation turn uses a short reply budget; report generation
// uses a larger one.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
}
