package ai

import (
	"context"
	"log"
	"sync"

	"github.com/cooperage/internal/settings"
)

// Resolver selects chat and embedding providers from cached AI settings.
// Providers are memoized on a settings key and rebuilt only when the
// settings change, so resolution is cheap per call.
type Resolver struct {
	apiKey   string
	settings *settings.AIService

	mu           sync.Mutex
	chatKey      string
	chat         ChatProvider
	embeddingKey string
	embedding    EmbeddingProvider
}

// NewResolver creates a provider resolver backed by the AI settings service
func NewResolver(apiKey string, aiSettings *settings.AIService) *Resolver {
	return &Resolver{
		apiKey:   apiKey,
		settings: aiSettings,
	}
}

// Chat returns the chat provider selected by current settings
func (r *Resolver) Chat(ctx context.Context) (ChatProvider, error) {
	s, err := r.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	key := s.ChatProvider + ":" + s.ChatModel

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chat != nil && r.chatKey == key {
		return r.chat, nil
	}

	r.chat = NewOpenAIChatProvider(r.apiKey, s.ChatModel)
	r.chatKey = key
	return r.chat, nil
}

// Embeddings returns the embedding provider selected by current settings
func (r *Resolver) Embeddings(ctx context.Context) (EmbeddingProvider, error) {
	s, err := r.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.embedding != nil && r.embeddingKey == s.EmbeddingModel {
		return r.embedding, nil
	}

	r.embedding = NewOpenAIEmbeddingProvider(r.apiKey, s.EmbeddingModel)
	r.embeddingKey = s.EmbeddingModel
	return r.embedding, nil
}

// EmbedAll embeds every text, degrading to an all-nil list on provider
// failure so callers continue without similarity candidates instead of
// hard-failing on a third-party outage.
func (r *Resolver) EmbedAll(ctx context.Context, texts []string) [][]float32 {
	provider, err := r.Embeddings(ctx)
	if err != nil {
		log.Printf("Failed to resolve embedding provider, returning nil embeddings: %v", err)
		return make([][]float32, len(texts))
	}

	vectors, err := provider.Embed(ctx, texts)
	if err != nil {
		log.Printf("Failed to generate embeddings, returning nil embeddings: %v", err)
		return make([][]float32, len(texts))
	}
	return vectors
}

// EmbedOne embeds a single text; returns nil on failure
func (r *Resolver) EmbedOne(ctx context.Context, text string) []float32 {
	vectors := r.EmbedAll(ctx, []string{text})
	return vectors[0]
}
