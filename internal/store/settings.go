package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cooperage/internal/settings"
)

// Settings are singleton rows keyed by 'default'. Partial updates are merged
// against the current row (or defaults) and written back whole.

// GetPipelineSettings reads the pipeline settings singleton, returning
// defaults when no row exists yet
func (s *PostgresStore) GetPipelineSettings(ctx context.Context) (settings.PipelineSettings, error) {
	var ps settings.PipelineSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT interval_minutes, similarity_threshold, top_k
		FROM pipeline_settings
		WHERE singleton_key = 'default'
	`).Scan(&ps.IntervalMinutes, &ps.SimilarityThreshold, &ps.TopK)
	if errors.Is(err, sql.ErrNoRows) {
		return settings.DefaultPipelineSettings(), nil
	}
	if err != nil {
		return settings.PipelineSettings{}, fmt.Errorf("failed to read pipeline settings: %w", err)
	}
	return ps, nil
}

// UpdatePipelineSettings merges the partial update and upserts the singleton row
func (s *PostgresStore) UpdatePipelineSettings(ctx context.Context, update settings.PipelineSettingsUpdate) (settings.PipelineSettings, error) {
	current, err := s.GetPipelineSettings(ctx)
	if err != nil {
		return settings.PipelineSettings{}, err
	}

	if update.IntervalMinutes != nil {
		current.IntervalMinutes = *update.IntervalMinutes
	}
	if update.SimilarityThreshold != nil {
		current.SimilarityThreshold = *update.SimilarityThreshold
	}
	if update.TopK != nil {
		current.TopK = *update.TopK
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_settings (singleton_key, interval_minutes, similarity_threshold, top_k, updated_at)
		VALUES ('default', $1, $2, $3, now())
		ON CONFLICT (singleton_key) DO UPDATE
		SET interval_minutes = EXCLUDED.interval_minutes,
		    similarity_threshold = EXCLUDED.similarity_threshold,
		    top_k = EXCLUDED.top_k,
		    updated_at = now()
	`, current.IntervalMinutes, current.SimilarityThreshold, current.TopK)
	if err != nil {
		return settings.PipelineSettings{}, fmt.Errorf("failed to write pipeline settings: %w", err)
	}
	return current, nil
}

// GetAISettings reads the AI settings singleton, returning defaults when no
// row exists yet
func (s *PostgresStore) GetAISettings(ctx context.Context) (settings.AISettings, error) {
	var as settings.AISettings
	err := s.db.QueryRowContext(ctx, `
		SELECT embedding_model, chat_provider, chat_model
		FROM ai_settings
		WHERE singleton_key = 'default'
	`).Scan(&as.EmbeddingModel, &as.ChatProvider, &as.ChatModel)
	if errors.Is(err, sql.ErrNoRows) {
		return settings.DefaultAISettings(), nil
	}
	if err != nil {
		return settings.AISettings{}, fmt.Errorf("failed to read AI settings: %w", err)
	}
	return as, nil
}

// UpdateAISettings merges the partial update and upserts the singleton row
func (s *PostgresStore) UpdateAISettings(ctx context.Context, update settings.AISettingsUpdate) (settings.AISettings, error) {
	current, err := s.GetAISettings(ctx)
	if err != nil {
		return settings.AISettings{}, err
	}

	if update.EmbeddingModel != nil {
		current.EmbeddingModel = *update.EmbeddingModel
	}
	if update.ChatProvider != nil {
		current.ChatProvider = *update.ChatProvider
	}
	if update.ChatModel != nil {
		current.ChatModel = *update.ChatModel
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ai_settings (singleton_key, embedding_model, chat_provider, chat_model, updated_at)
		VALUES ('default', $1, $2, $3, now())
		ON CONFLICT (singleton_key) DO UPDATE
		SET embedding_model = EXCLUDED.embedding_model,
		    chat_provider = EXCLUDED.chat_provider,
		    chat_model = EXCLUDED.chat_model,
		    updated_at = now()
	`, current.EmbeddingModel, current.ChatProvider, current.ChatModel)
	if err != nil {
		return settings.AISettings{}, fmt.Errorf("failed to write AI settings: %w", err)
	}
	return current, nil
}
