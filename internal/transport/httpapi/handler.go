// Package httpapi реализует HTTP-вход голосового клиента: поиск блюда, оформление заказа,
// разбор фразы и журнал запусков.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/automation"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/idempotency"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/matcher"
)

const (
	// HeaderRunID возвращает клиенту идентификатор запуска пайплайна.
	HeaderRunID = "X-Run-ID"
	// HeaderIdempotencyKey: необязательный ключ повторной отправки.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется, когда ответ взят из сохранённого.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	maxBodyBytes     = 8 << 20
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

var (
	errInvalidBody            = errors.New("invalid request body")
	errIdempotencyUnavailable = errors.New("idempotency store unavailable")
)

// Pipeline: два вызова автоматизации заказа.
type Pipeline interface {
	CreateOrder(ctx context.Context, order domain.Order) domain.ConfirmOrder
	OrderFood(ctx context.Context, confirm domain.ConfirmOrder) domain.OrderStatus
}

// OrderExtractor выделяет заказ из распознанной речи.
type OrderExtractor interface {
	Extract(ctx context.Context, phrase string) (domain.Order, error)
}

// Handler обслуживает HTTP API.
type Handler struct {
	pipeline  Pipeline
	extractor OrderExtractor
	runs      domain.RunRepository
	timeline  domain.TimelineRepository
	guard     *idempotency.Guard
	logger    *log.Entry
}

// Option настраивает Handler.
type Option func(*Handler)

// WithExtractor включает POST /parseOrder.
func WithExtractor(e OrderExtractor) Option {
	return func(h *Handler) { h.extractor = e }
}

// WithRunLog включает GET /runs.
func WithRunLog(runs domain.RunRepository, timeline domain.TimelineRepository) Option {
	return func(h *Handler) {
		h.runs = runs
		h.timeline = timeline
	}
}

// WithIdempotency включает обработку заголовка Idempotency-Key.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(h *Handler) { h.guard = guard }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) { h.logger = logger }
}

// NewHandler создаёт обработчик поверх пайплайна.
func NewHandler(pipeline Pipeline, opts ...Option) *Handler {
	h := &Handler{pipeline: pipeline}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = log.WithField("component", "http-api")
	}
	return h
}

// CreateOrder: POST /order. Ошибки пайплайна приходят в теле ответа со статусом 200.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var order domain.Order
	if err := decodeJSON(w, r, &order); err != nil {
		h.logger.WithError(err).Warn("Malformed order request")
		writeJSON(w, http.StatusBadRequest, domain.FailedConfirmOrder(errInvalidBody))
		return
	}

	h.serve(w, r, idempotency.OperationCreateOrder, order,
		func(err error) any { return domain.FailedConfirmOrder(err) },
		func(ctx context.Context) (any, bool) {
			result := h.pipeline.CreateOrder(ctx, order)
			return result, result.Succeeded()
		})
}

// ConfirmOrder: POST /confirmOrder.
func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	var confirm domain.ConfirmOrder
	if err := decodeJSON(w, r, &confirm); err != nil {
		h.logger.WithError(err).Warn("Malformed confirm request")
		writeJSON(w, http.StatusBadRequest, domain.FailedStatus(errInvalidBody))
		return
	}

	h.serve(w, r, idempotency.OperationConfirmOrder, confirm,
		func(err error) any { return domain.FailedStatus(err) },
		func(ctx context.Context) (any, bool) {
			status := h.pipeline.OrderFood(ctx, confirm)
			return status, status.Status == domain.StatusConfirmed
		})
}

// serve запускает пайплайн, при наличии Idempotency-Key через guard.
func (h *Handler) serve(
	w http.ResponseWriter,
	r *http.Request,
	operation string,
	request any,
	failed func(error) any,
	run func(ctx context.Context) (any, bool),
) {
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" || h.guard == nil {
		result, _ := run(h.runContext(w, r))
		writeJSON(w, http.StatusOK, result)
		return
	}

	payload, err := json.Marshal(request)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, failed(err))
		return
	}

	decision, err := h.guard.Begin(key, operation, payload)
	switch {
	case errors.Is(err, domain.ErrIdempotencyInProgress), errors.Is(err, domain.ErrIdempotencyHashMismatch):
		h.logger.WithFields(log.Fields{"key": key, "operation": operation}).WithError(err).Info("Idempotency conflict")
		writeJSON(w, http.StatusConflict, failed(err))
		return
	case err != nil:
		h.logger.WithError(err).Error("Idempotency check failed")
		writeJSON(w, http.StatusInternalServerError, failed(errIdempotencyUnavailable))
		return
	case decision.Replay:
		w.Header().Set(HeaderIdempotentReplay, "true")
		writeBody(w, decision.HTTPStatus, decision.Body)
		return
	}

	result, ok := run(h.runContext(w, r))
	body, err := json.Marshal(result)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, failed(err))
		return
	}

	store := h.guard.Complete
	if !ok {
		store = h.guard.Fail
	}
	if err := store(key, body, http.StatusOK); err != nil {
		h.logger.WithError(err).WithField("key", key).Warn("Failed to store idempotent response")
	}
	writeBody(w, http.StatusOK, body)
}

func (h *Handler) runContext(w http.ResponseWriter, r *http.Request) context.Context {
	runID := uuid.NewString()
	w.Header().Set(HeaderRunID, runID)
	return automation.ContextWithRunID(r.Context(), runID)
}

// ParseOrder: POST /parseOrder.
func (h *Handler) ParseOrder(w http.ResponseWriter, r *http.Request) {
	if h.extractor == nil {
		writeError(w, http.StatusNotFound, "order extraction is not enabled")
		return
	}

	var req parseOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidBody.Error())
		return
	}

	order, err := h.extractor.Extract(r.Context(), req.Text)
	switch {
	case errors.Is(err, matcher.ErrOrderNotRecognized):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		h.logger.WithError(err).Warn("Order extraction failed")
		writeError(w, http.StatusServiceUnavailable, "order extraction is unavailable")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetRun обслуживает GET /runs/{id} и отдаёт запуск вместе с таймлайном.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotFound, "run log is not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := h.runs.Get(id)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.WithError(err).WithField("run_id", id).Error("Failed to load run")
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	resp := newRunResponse(run)
	if h.timeline != nil {
		events, err := h.timeline.List(id)
		if err != nil {
			h.logger.WithError(err).WithField("run_id", id).Warn("Failed to load run timeline")
		}
		resp.Timeline = newTimelineResponse(events)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRuns обслуживает GET /runs?limit=N, новые запуски первыми.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotFound, "run log is not enabled")
		return
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.runs.ListRecent(limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunResponse(run))
	}
	writeJSON(w, http.StatusOK, runListResponse{Runs: out})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	writeBody(w, status, body)
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
