// Package llm defines the Provider interface for Large Language Model backends.
//
// A provider wraps a remote or local model API (OpenAI, any of the vendors
// supported by any-llm, or a Dify application) and exposes a single blocking
// completion call so the grammar checker does not couple to any SDK.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Message is a single message in the conversation sent to the model.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the backend. Counts
// are in the model's native token unit and may be zero when the backend does
// not report them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically from
	// the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional instruction injected before Messages.
	// Providers without a dedicated system slot prepend it as a
	// "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means the
	// provider default.
	MaxTokens int

	// User identifies the end user on whose behalf the request is made.
	// Providers that support per-user attribution forward it.
	User string

	// Metadata carries structured inputs for application-style backends
	// (e.g. Dify's "inputs" object). Chat-completion providers ignore it.
	Metadata map[string]string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// ModelCapabilities describes static limits of the underlying model.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one
	// completion. Zero means unknown.
	MaxOutputTokens int
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// It returns an error if the request fails or ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing the model. The result
	// is constant for the lifetime of the Provider.
	Capabilities() ModelCapabilities
}
