package domain

import (
	"context"
	"time"
)

// Matcher — внешний классификатор, сопоставляющий свободный текст со списком кандидатов.
type Matcher interface {
	// Match возвращает сырой ответ вида {"id": 3} или {"id": null}. Ответ недетерминирован
	// и может быть мусором; разбирает его вызывающая сторона.
	Match(ctx context.Context, candidates []MatchCandidate, query string) (string, error)
}

// EventPublisher публикует события пайплайна во внешний брокер.
type EventPublisher interface {
	PublishEvent(topic string, key string, event interface{}) error
	Close() error
}

// TimelineRepository хранит события запусков пайплайна.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(runID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// PipelineStep задаёт константы шагов для метрик, логов и таймлайна.
type PipelineStep string

const (
	StepSession    PipelineStep = "session"
	StepAuth       PipelineStep = "auth"
	StepRestaurant PipelineStep = "restaurant"
	StepMeal       PipelineStep = "meal"
	StepCapture    PipelineStep = "capture"
	StepCart       PipelineStep = "cart"
	StepCheckout   PipelineStep = "checkout"
)
