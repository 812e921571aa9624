package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of pipeline event
type EventType string

const (
	EventTypePipelineCompleted EventType = "pipeline.completed"
	EventTypePipelineFailed    EventType = "pipeline.failed"
	EventTypeBackfillCompleted EventType = "backfill.completed"
	EventTypeSettingsUpdated   EventType = "settings.updated"
)

// PipelineEvent is published to the event bus after pipeline activity
type PipelineEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Counts    map[string]int         `json:"counts,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// NewPipelineEvent creates a pipeline event with a generated id and timestamp
func NewPipelineEvent(eventType EventType, counts map[string]int) PipelineEvent {
	return PipelineEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    "cooperage-pipeline",
		Counts:    counts,
	}
}
