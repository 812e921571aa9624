package ai

import (
	"context"
)

// ChatMessage is a single message in a chat completion request
type ChatMessage struct {
	Role    string // system, user, assistant
	Content string
}

// ChatRequest describes a chat completion call
type ChatRequest struct {
	Messages     []ChatMessage
	Temperature  float32
	JSONResponse bool // constrain output to a JSON object
}

// ChatProvider produces chat completions. It fails loudly: callers treat an
// error or empty result as classification/extraction failure and apply their
// own fallback.
type ChatProvider interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// EmbeddingProvider produces embedding vectors for texts. Embed returns one
// vector per input text, in input order.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
