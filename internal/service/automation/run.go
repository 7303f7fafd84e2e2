package automation

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
	"github.com/vladislavdragonenkov/voiceorder/internal/messaging"
	"github.com/vladislavdragonenkov/voiceorder/internal/metrics"
)

// runTracker ведёт журнал одного запуска: запись Run, таймлайн, события, метрики и логи.
// Сбои журнала и брокера только логируются и не влияют на результат запуска.
type runTracker struct {
	p      *Pipeline
	run    domain.Run
	logger *log.Entry
}

func (p *Pipeline) startRun(ctx context.Context, kind domain.RunKind, fill func(r *domain.Run)) *runTracker {
	run := domain.Run{
		ID:        newRunID(ctx),
		Kind:      kind,
		Status:    domain.RunStatusRunning,
		StartedAt: p.now(),
	}
	if fill != nil {
		fill(&run)
	}

	t := &runTracker{
		p:   p,
		run: run,
		logger: p.logger.WithFields(log.Fields{
			"run_id": run.ID,
			"kind":   string(kind),
		}),
	}

	if p.runs != nil {
		if err := p.runs.Create(run); err != nil {
			t.logger.WithError(err).Warn("Failed to store pipeline run")
		}
	}
	if p.metrics != nil {
		p.metrics.RecordRunStarted(string(kind))
	}
	t.publish(messaging.NewPipelineEvent(messaging.EventTypePipelineStarted, run.ID, string(kind), map[string]interface{}{
		"restaurant": run.Restaurant,
		"meal":       run.Meal,
	}))
	t.logger.WithFields(log.Fields{
		"restaurant": run.Restaurant,
		"meal":       run.Meal,
	}).Info("Pipeline run started")
	return t
}

// step выполняет шаг и учитывает его длительность и исход.
func (t *runTracker) step(step domain.PipelineStep, fn func() error) error {
	start := time.Now()
	err := fn()
	if t.p.metrics != nil {
		t.p.metrics.RecordStep(string(step), time.Since(start), err != nil)
	}
	if err != nil {
		t.stepFailed(step, err)
		return err
	}

	t.publish(messaging.NewStepEvent(messaging.EventTypeStepCompleted, t.run.ID, string(t.run.Kind), string(step), nil))
	t.logger.WithFields(log.Fields{
		"step":     string(step),
		"duration": time.Since(start),
	}).Debug("Pipeline step completed")
	return nil
}

func (t *runTracker) stepFailed(step domain.PipelineStep, err error) {
	t.event(string(step)+".failed", err.Error())
	t.publish(messaging.NewStepEvent(messaging.EventTypeStepFailed, t.run.ID, string(t.run.Kind), string(step), map[string]interface{}{
		"error": err.Error(),
	}))

	entry := t.logger.WithError(err).WithField("step", string(step))
	if domain.IsResolutionFailure(err) {
		entry.Info("Pipeline step found nothing")
		return
	}
	entry.Warn("Pipeline step failed")
}

// event добавляет запись в таймлайн запуска.
func (t *runTracker) event(eventType, reason string) {
	if t.p.timeline == nil {
		return
	}
	if err := t.p.timeline.Append(domain.TimelineEvent{
		RunID:    t.run.ID,
		Type:     eventType,
		Reason:   reason,
		Occurred: t.p.now(),
	}); err != nil {
		t.logger.WithError(err).WithField("event", eventType).Warn("Failed to append timeline event")
		return
	}
	if t.p.metrics != nil {
		t.p.metrics.RecordTimelineEvent()
	}
}

// record меняет поля запуска до его завершения.
func (t *runTracker) record(fn func(r *domain.Run)) {
	fn(&t.run)
}

func (t *runTracker) finish(err error) {
	t.run.FinishedAt = t.p.now()
	result := metrics.ResultSucceeded
	eventType := messaging.EventTypePipelineCompleted
	t.run.Status = domain.RunStatusSucceeded
	if err != nil {
		result = metrics.ResultFailed
		eventType = messaging.EventTypePipelineFailed
		t.run.Status = domain.RunStatusFailed
		t.run.Error = domain.PublicMessage(err)
	}

	if t.p.runs != nil {
		if saveErr := t.p.runs.Save(t.run); saveErr != nil {
			t.logger.WithError(saveErr).Warn("Failed to update pipeline run")
		}
	}
	if t.p.metrics != nil {
		t.p.metrics.RecordRunFinished(string(t.run.Kind), result, t.run.Duration())
	}

	metadata := map[string]interface{}{
		"duration_ms": t.run.Duration().Milliseconds(),
	}
	if t.run.MealID != nil {
		metadata["meal_id"] = *t.run.MealID
	}
	if err != nil {
		metadata["error"] = t.run.Error
	}
	t.publish(messaging.NewPipelineEvent(eventType, t.run.ID, string(t.run.Kind), metadata))

	entry := t.logger.WithFields(log.Fields{
		"status":   string(t.run.Status),
		"duration": t.run.Duration(),
	})
	if err != nil {
		entry.WithError(err).Warn("Pipeline run failed")
		return
	}
	entry.Info("Pipeline run completed")
}

func (t *runTracker) publish(event *messaging.PipelineEvent) {
	if t.p.publisher == nil {
		return
	}
	if err := t.p.publisher.PublishEvent(messaging.TopicPipelineEvents, t.run.ID, event); err != nil {
		if t.p.metrics != nil {
			t.p.metrics.RecordPublishFailure(messaging.TopicPipelineEvents)
		}
		t.logger.WithError(err).WithField("event_type", string(event.EventType)).Warn("Failed to publish pipeline event")
	}
}
