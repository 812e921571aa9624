package settings

import (
	"context"
	"fmt"
	"time"
)

// PipelineSettings controls the distillation pipeline schedule and matching
type PipelineSettings struct {
	IntervalMinutes     int     `json:"interval_minutes"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	TopK                int     `json:"top_k"`
}

// DefaultPipelineSettings returns the settings used before any update is persisted
func DefaultPipelineSettings() PipelineSettings {
	return PipelineSettings{
		IntervalMinutes:     30,
		SimilarityThreshold: 0.75,
		TopK:                5,
	}
}

// Interval returns the scheduling interval as a duration
func (s PipelineSettings) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// PipelineSettingsUpdate is a partial update; nil fields are left unchanged
type PipelineSettingsUpdate struct {
	IntervalMinutes     *int     `json:"interval_minutes,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
	TopK                *int     `json:"top_k,omitempty"`
}

// Validate checks the update fields against their allowed ranges
func (u PipelineSettingsUpdate) Validate() error {
	if u.IntervalMinutes != nil && (*u.IntervalMinutes < 5 || *u.IntervalMinutes > 60) {
		return fmt.Errorf("interval_minutes must be between 5 and 60, got %d", *u.IntervalMinutes)
	}
	if u.SimilarityThreshold != nil && (*u.SimilarityThreshold < 0.1 || *u.SimilarityThreshold > 1.0) {
		return fmt.Errorf("similarity_threshold must be between 0.1 and 1.0, got %v", *u.SimilarityThreshold)
	}
	if u.TopK != nil && (*u.TopK < 1 || *u.TopK > 20) {
		return fmt.Errorf("top_k must be between 1 and 20, got %d", *u.TopK)
	}
	return nil
}

// PipelineSettingsStore persists pipeline settings as a singleton row
type PipelineSettingsStore interface {
	GetPipelineSettings(ctx context.Context) (PipelineSettings, error)
	UpdatePipelineSettings(ctx context.Context, update PipelineSettingsUpdate) (PipelineSettings, error)
}

// PipelineService wraps a settings store with a TTL cache
type PipelineService struct {
	store PipelineSettingsStore
	cache *Cache[PipelineSettings]
}

// NewPipelineService creates the cached pipeline settings service
func NewPipelineService(store PipelineSettingsStore) *PipelineService {
	return &PipelineService{
		store: store,
		cache: NewCache(DefaultTTL, store.GetPipelineSettings),
	}
}

// Get returns current settings, served from cache within the TTL window
func (s *PipelineService) Get(ctx context.Context) (PipelineSettings, error) {
	return s.cache.Get(ctx)
}

// Update validates and persists a partial update, then invalidates the cache
// so the next read observes the new values immediately
func (s *PipelineService) Update(ctx context.Context, update PipelineSettingsUpdate) (PipelineSettings, error) {
	if err := update.Validate(); err != nil {
		return PipelineSettings{}, err
	}

	updated, err := s.store.UpdatePipelineSettings(ctx, update)
	if err != nil {
		return PipelineSettings{}, fmt.Errorf("failed to update pipeline settings: %w", err)
	}

	s.cache.Invalidate()
	return updated, nil
}
