package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
	"github.com/vladislavdragonenkov/voiceorder/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

// CleanupConfig: параметры очистки. Нулевые значения заменяются значениями по умолчанию.
type CleanupConfig struct {
	Interval  time.Duration
	BatchSize int
	Logger    *log.Entry
	Metrics   *metrics.PipelineMetrics
	Now       func() time.Time
}

func (c CleanupConfig) withDefaults() CleanupConfig {
	if c.Interval <= 0 {
		c.Interval = defaultCleanupInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultCleanupBatchSize
	}
	if c.Logger == nil {
		c.Logger = log.WithField("component", "idempotency-cleanup")
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// CleanupWorker удаляет ключи с истёкшим TTL, после чего повторная
// отправка того же заказа снова запускает оформление.
type CleanupWorker struct {
	repo domain.IdempotencyRepository
	cfg  CleanupConfig
}

func NewCleanupWorker(repo domain.IdempotencyRepository, cfg CleanupConfig) *CleanupWorker {
	return &CleanupWorker{repo: repo, cfg: cfg.withDefaults()}
}

// Run чистит сразу и затем раз в Interval, пока не отменён ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.cfg.Logger.Warn("Idempotency cleanup is disabled: repository is nil")
		return
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) tick(ctx context.Context) {
	deleted, err := w.Sweep(ctx, w.cfg.Now())
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		w.observe(metrics.ResultFailed, deleted)
		w.cfg.Logger.WithError(err).WithField("deleted", deleted).Warn("Idempotency cleanup run failed")
		return
	}

	w.observe(metrics.ResultSucceeded, deleted)
	if deleted > 0 {
		w.cfg.Logger.WithField("deleted", deleted).Info("Expired idempotency keys removed")
	}
}

func (w *CleanupWorker) observe(result string, deleted int) {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.RecordCleanupRun(result, deleted)
	}
}

// Sweep удаляет записи с ttl <= before порциями по BatchSize, пока очередная порция не окажется неполной.
// Возвращает число удалённых записей, в том числе при ошибке.
func (w *CleanupWorker) Sweep(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.cfg.Now()
	}

	total := 0
	for ctx.Err() == nil {
		n, err := w.repo.DeleteExpired(before, w.cfg.BatchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < w.cfg.BatchSize {
			return total, nil
		}
	}
	return total, ctx.Err()
}
