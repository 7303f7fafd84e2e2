// Package idempotency не даёт повторной отправке запроса второй раз оформить заказ.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
	"github.com/vladislavdragonenkov/voiceorder/internal/metrics"
)

// DefaultTTL: сколько хранится ответ под ключом.
const DefaultTTL = domain.DefaultIdempotencyTTL

// Операции общие для HTTP и gRPC: ключ, занятый через один транспорт,
// воспроизводится и через другой.
const (
	OperationCreateOrder  = "order"
	OperationConfirmOrder = "confirmOrder"
)

// Decision: результат Begin.
type Decision struct {
	// Replay: ответ уже есть, пайплайн запускать нельзя.
	Replay     bool
	Body       []byte
	HTTPStatus int
}

// Guard связывает ключ идемпотентности с ответом на первый запрос.
type Guard struct {
	repo    domain.IdempotencyRepository
	ttl     time.Duration
	metrics *metrics.PipelineMetrics
	logger  *log.Entry
	now     func() time.Time
}

// NewGuard создаёт guard. при ttl <= 0 используется DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, m *metrics.PipelineMetrics, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency")
	}
	return &Guard{
		repo:    repo,
		ttl:     ttl,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RequestHash считает отпечаток запроса: операция и тело.
func RequestHash(operation string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin занимает ключ или возвращает сохранённый ответ.
// Для ключа в работе возвращает ErrIdempotencyInProgress, для ключа с другим запросом ErrIdempotencyHashMismatch.
func (g *Guard) Begin(key, operation string, payload []byte) (Decision, error) {
	key = strings.TrimSpace(key)
	hash := RequestHash(operation, payload)

	_, err := g.repo.CreateProcessing(key, hash, g.now().Add(g.ttl))
	switch {
	case err == nil:
		return Decision{}, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		g.record(metrics.IdempotencyConflict)
		return Decision{}, err
	case !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return Decision{}, err
	}

	record, err := g.repo.Get(key)
	if err != nil {
		return Decision{}, fmt.Errorf("load idempotency record: %w", err)
	}
	if !record.Settled() {
		g.record(metrics.IdempotencyInProgress)
		return Decision{}, domain.ErrIdempotencyInProgress
	}

	g.record(metrics.IdempotencyReplayed)
	g.logger.WithFields(log.Fields{
		"key":    key,
		"status": string(record.Status),
	}).Info("Replaying stored response")
	return Decision{Replay: true, Body: record.ResponseBody, HTTPStatus: record.HTTPStatus}, nil
}

// Complete сохраняет успешный ответ.
func (g *Guard) Complete(key string, body []byte, httpStatus int) error {
	return g.repo.MarkDone(strings.TrimSpace(key), body, httpStatus)
}

// Fail сохраняет ответ с ошибкой пайплайна. Он тоже окончательный:
// повтор с тем же ключом его воспроизведёт, а не запустит оформление снова.
func (g *Guard) Fail(key string, body []byte, httpStatus int) error {
	return g.repo.MarkFailed(strings.TrimSpace(key), body, httpStatus)
}

func (g *Guard) record(outcome string) {
	if g.metrics != nil {
		g.metrics.RecordIdempotencyDecision(outcome)
	}
}
