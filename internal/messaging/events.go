// Package messaging описывает события пайплайна, общие для всех брокеров.
package messaging

import "time"

// EventType определяет тип события.
type EventType string

const (
	// События запуска
	EventTypePipelineStarted   EventType = "pipeline.started"
	EventTypePipelineCompleted EventType = "pipeline.completed"
	EventTypePipelineFailed    EventType = "pipeline.failed"

	// События шагов
	EventTypeStepCompleted EventType = "step.completed"
	EventTypeStepFailed    EventType = "step.failed"
)

const (
	// TopicPipelineEvents: топик Kafka для событий пайплайна.
	TopicPipelineEvents = "voiceorder.pipeline.events"
	// ExchangePipeline: topic-exchange RabbitMQ для тех же событий.
	ExchangePipeline = "voiceorder.pipeline"
)

// PipelineEvent представляет событие запуска пайплайна.
type PipelineEvent struct {
	EventType EventType              `json:"event_type"`
	RunID     string                 `json:"run_id"`
	Kind      string                 `json:"kind"`
	Step      string                 `json:"step,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewPipelineEvent создаёт событие запуска.
func NewPipelineEvent(eventType EventType, runID, kind string, metadata map[string]interface{}) *PipelineEvent {
	return &PipelineEvent{
		EventType: eventType,
		RunID:     runID,
		Kind:      kind,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// NewStepEvent создаёт событие шага.
func NewStepEvent(eventType EventType, runID, kind, step string, metadata map[string]interface{}) *PipelineEvent {
	event := NewPipelineEvent(eventType, runID, kind, metadata)
	event.Step = step
	return event
}
