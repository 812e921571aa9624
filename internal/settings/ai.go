package settings

import (
	"context"
	"fmt"
)

// AISettings selects the embedding model and chat provider/model
type AISettings struct {
	EmbeddingModel string `json:"embedding_model"`
	ChatProvider   string `json:"chat_provider"`
	ChatModel      string `json:"chat_model"`
}

// DefaultAISettings returns the provider configuration used before any update
func DefaultAISettings() AISettings {
	return AISettings{
		EmbeddingModel: "text-embedding-3-small",
		ChatProvider:   "openai",
		ChatModel:      "gpt-4o-mini",
	}
}

var embeddingModels = map[string]bool{
	"text-embedding-3-small": true,
	"text-embedding-3-large": true,
}

var chatModelsByProvider = map[string][]string{
	"openai": {"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini"},
}

// AISettingsUpdate is a partial update; nil fields are left unchanged
type AISettingsUpdate struct {
	EmbeddingModel *string `json:"embedding_model,omitempty"`
	ChatProvider   *string `json:"chat_provider,omitempty"`
	ChatModel      *string `json:"chat_model,omitempty"`
}

// Validate checks model names against the known provider catalogs
func (u AISettingsUpdate) Validate() error {
	if u.EmbeddingModel != nil && !embeddingModels[*u.EmbeddingModel] {
		return fmt.Errorf("unknown embedding model: %s", *u.EmbeddingModel)
	}
	if u.ChatProvider != nil {
		if _, ok := chatModelsByProvider[*u.ChatProvider]; !ok {
			return fmt.Errorf("unknown chat provider: %s", *u.ChatProvider)
		}
	}
	if u.ChatModel != nil {
		provider := "openai"
		if u.ChatProvider != nil {
			provider = *u.ChatProvider
		}
		valid := false
		for _, m := range chatModelsByProvider[provider] {
			if m == *u.ChatModel {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("chat model %s is not available for provider %s", *u.ChatModel, provider)
		}
	}
	return nil
}

// AISettingsStore persists AI settings as a singleton row
type AISettingsStore interface {
	GetAISettings(ctx context.Context) (AISettings, error)
	UpdateAISettings(ctx context.Context, update AISettingsUpdate) (AISettings, error)
}

// AIService wraps the AI settings store with its own TTL cache, independent
// from the pipeline settings cache
type AIService struct {
	store AISettingsStore
	cache *Cache[AISettings]
}

// NewAIService creates the cached AI settings service
func NewAIService(store AISettingsStore) *AIService {
	return &AIService{
		store: store,
		cache: NewCache(DefaultTTL, store.GetAISettings),
	}
}

// Get returns current AI settings, served from cache within the TTL window
func (s *AIService) Get(ctx context.Context) (AISettings, error) {
	return s.cache.Get(ctx)
}

// Update validates and persists a partial update, then invalidates the cache
func (s *AIService) Update(ctx context.Context, update AISettingsUpdate) (AISettings, error) {
	if err := update.Validate(); err != nil {
		return AISettings{}, err
	}

	updated, err := s.store.UpdateAISettings(ctx, update)
	if err != nil {
		return AISettings{}, fmt.Errorf("failed to update AI settings: %w", err)
	}

	s.cache.Invalidate()
	return updated, nil
}
