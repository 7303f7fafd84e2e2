package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты запуска и сопоставления для меток.
const (
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"

	MatchFound   = "found"
	MatchNone    = "none"
	MatchInvalid = "invalid"
	MatchError   = "error"

	IdempotencyReplayed   = "replayed"
	IdempotencyConflict   = "conflict"
	IdempotencyInProgress = "in_progress"
)

// PipelineMetrics содержит метрики пайплайна оформления заказа.
type PipelineMetrics struct {
	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	activeRuns   prometheus.Gauge

	stepDuration *prometheus.HistogramVec
	stepFailures *prometheus.CounterVec

	matcherResults      *prometheus.CounterVec
	checkoutSubmissions prometheus.Counter
	timelineEvents      prometheus.Counter
	publishFailures     *prometheus.CounterVec

	idempotencyDecisions *prometheus.CounterVec
	cleanupRuns          *prometheus.CounterVec
	cleanupDeleted       prometheus.Counter
	cleanupLastDeleted   prometheus.Gauge
}

// NewPipelineMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewPipelineMetrics() *PipelineMetrics {
	return NewPipelineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPipelineMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewPipelineMetricsWithRegisterer(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		runsStarted: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceorder_pipeline_runs_started_total",
			Help: "Total number of pipeline runs started",
		}, []string{"kind"})),
		runsFinished: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceorder_pipeline_runs_finished_total",
			Help: "Total number of pipeline runs finished by result",
		}, []string{"kind", "result"})),
		runDuration: Register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voiceorder_pipeline_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120},
		}, []string{"kind"})),
		activeRuns: Register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voiceorder_pipeline_active_runs",
			Help: "Number of pipeline runs currently holding a browser session",
		})),
		stepDuration: Register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voiceorder_pipeline_step_duration_seconds",
			Help:    "Duration of individual pipeline steps in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"step"})),
		stepFailures: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceorder_pipeline_step_failures_total",
			Help: "Total number of failed pipeline steps",
		}, []string{"step"})),
		matcherResults: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceorder_matcher_results_total",
			Help: "Matcher answers by outcome",
		}, []string{"result"})),
		checkoutSubmissions: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voiceorder_checkout_submissions_total",
			Help: "Total number of clicks on the send order button",
		})),
		timelineEvents: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voiceorder_timeline_events_total",
			Help: "Total number of timeline events recorded",
		})),
		publishFailures: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceorder_event_publish_failures_total",
			Help: "Total number of pipeline events that failed to publish",
		}, []string{"topic"})),
		idempotencyDecisions: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceorder_idempotency_decisions_total",
			Help: "Requests with an idempotency key that did not run the pipeline",
		}, []string{"outcome"})),
		cleanupRuns: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceorder_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result.",
		}, []string{"result"})),
		cleanupDeleted: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voiceorder_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records.",
		})),
		cleanupLastDeleted: Register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voiceorder_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run.",
		})),
	}
}

// Register регистрирует collector или возвращает уже зарегистрированный коллектор того же типа,
// поэтому конструкторы метрик можно вызывать повторно. Любая другая ошибка регистрации означает
// конфликт имён в коде и приводит к панике.
func Register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(fmt.Sprintf("register %T: %v", collector, err))
}

// RecordRunStarted учитывает новый запуск и увеличивает число активных.
func (m *PipelineMetrics) RecordRunStarted(kind string) {
	m.runsStarted.WithLabelValues(kind).Inc()
	m.activeRuns.Inc()
}

// RecordRunFinished учитывает завершение запуска и его длительность.
func (m *PipelineMetrics) RecordRunFinished(kind, result string, duration time.Duration) {
	m.runsFinished.WithLabelValues(kind, result).Inc()
	m.runDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordStep записывает длительность шага; при ошибке увеличивает счётчик сбоев.
func (m *PipelineMetrics) RecordStep(step string, duration time.Duration, failed bool) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
	if failed {
		m.stepFailures.WithLabelValues(step).Inc()
	}
}

// RecordMatcherResult учитывает исход обращения к матчеру.
func (m *PipelineMetrics) RecordMatcherResult(result string) {
	m.matcherResults.WithLabelValues(result).Inc()
}

// RecordCheckoutSubmission учитывает клик по кнопке отправки заказа.
func (m *PipelineMetrics) RecordCheckoutSubmission() {
	m.checkoutSubmissions.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *PipelineMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordPublishFailure учитывает событие, которое не удалось опубликовать.
func (m *PipelineMetrics) RecordPublishFailure(topic string) {
	m.publishFailures.WithLabelValues(topic).Inc()
}

// RecordIdempotencyDecision учитывает запрос, который не дошёл до пайплайна из-за ключа.
func (m *PipelineMetrics) RecordIdempotencyDecision(outcome string) {
	m.idempotencyDecisions.WithLabelValues(outcome).Inc()
}

// RecordCleanupRun учитывает прогон очистки ключей идемпотентности.
func (m *PipelineMetrics) RecordCleanupRun(result string, deleted int) {
	m.cleanupRuns.WithLabelValues(result).Inc()
	if result != ResultSucceeded {
		return
	}
	m.cleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		m.cleanupDeleted.Add(float64(deleted))
	}
}
