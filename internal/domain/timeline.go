package domain

import (
	"strings"
	"time"
)

// TimelineEvent описывает шаг в жизни запуска пайплайна.
// Type имеет вид "<шаг>.<исход>", например "restaurant.resolved" или "cart.failed".
type TimelineEvent struct {
	RunID    string
	Type     string
	Reason   string
	Occurred time.Time
}

// Validate проверяет обязательные поля события.
func (e TimelineEvent) Validate() error {
	if strings.TrimSpace(e.RunID) == "" || strings.TrimSpace(e.Type) == "" {
		return ErrTimelineEventInvalid
	}
	return nil
}

// Step возвращает шаг пайплайна из типа события.
func (e TimelineEvent) Step() PipelineStep {
	step, _, _ := strings.Cut(e.Type, ".")
	return PipelineStep(step)
}

// Failed сообщает, что событие фиксирует ошибку шага.
func (e TimelineEvent) Failed() bool {
	return strings.HasSuffix(e.Type, ".failed")
}
