// Package grpcsvc отдаёт по gRPC те же два вызова, что и HTTP API.
package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/automation"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/idempotency"
)

const (
	idempotencyKeyHeader = "idempotency-key"
	// RunIDHeader: заголовок ответа с идентификатором запуска.
	RunIDHeader = "x-run-id"
	// ReplayedHeader выставляется, когда ответ взят из сохранённого.
	ReplayedHeader = "idempotent-replayed"
)

// Pipeline: два вызова автоматизации заказа.
type Pipeline interface {
	CreateOrder(ctx context.Context, order domain.Order) domain.ConfirmOrder
	OrderFood(ctx context.Context, confirm domain.ConfirmOrder) domain.OrderStatus
}

// OrderAutomationService реализует OrderAutomationServer поверх пайплайна.
type OrderAutomationService struct {
	pipeline Pipeline
	guard    *idempotency.Guard
	logger   *log.Entry
}

// NewOrderAutomationService конструирует сервис. guard может быть nil,
// тогда metadata idempotency-key игнорируется.
func NewOrderAutomationService(pipeline Pipeline, guard *idempotency.Guard, logger *log.Entry) *OrderAutomationService {
	if logger == nil {
		logger = log.WithField("component", "grpc-service")
	}
	return &OrderAutomationService{pipeline: pipeline, guard: guard, logger: logger}
}

// CreateOrder ищет ресторан и блюдо.
func (s *OrderAutomationService) CreateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var order domain.Order
	if err := fromStruct(req, &order); err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed order payload")
	}

	return s.withIdempotency(ctx, idempotency.OperationCreateOrder, order, func(ctx context.Context) (any, bool) {
		result := s.pipeline.CreateOrder(ctx, order)
		return result, result.Succeeded()
	})
}

// ConfirmOrder добавляет блюдо в корзину и оформляет заказ.
func (s *OrderAutomationService) ConfirmOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var confirm domain.ConfirmOrder
	if err := fromStruct(req, &confirm); err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed confirm payload")
	}

	return s.withIdempotency(ctx, idempotency.OperationConfirmOrder, confirm, func(ctx context.Context) (any, bool) {
		result := s.pipeline.OrderFood(ctx, confirm)
		return result, result.Status == domain.StatusConfirmed
	})
}

// withIdempotency повторяет логику HTTP: ключ занимается до запуска,
// сохранённый ответ воспроизводится, конфликт отдаётся кодом gRPC.
func (s *OrderAutomationService) withIdempotency(
	ctx context.Context,
	operation string,
	request any,
	run func(ctx context.Context) (any, bool),
) (*structpb.Struct, error) {
	key := readIdempotencyKey(ctx)
	if key == "" || s.guard == nil {
		result, _ := run(s.runContext(ctx))
		return s.encode(result)
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode request")
	}

	decision, err := s.guard.Begin(key, operation, payload)
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(err, domain.ErrIdempotencyInProgress):
		return nil, status.Error(codes.Aborted, "request with the same idempotency key is already processing")
	case err != nil:
		s.logger.WithError(err).Warn("Failed to initialize idempotent request")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	case decision.Replay:
		_ = grpc.SetHeader(ctx, metadata.Pairs(ReplayedHeader, "true"))
		out := new(structpb.Struct)
		if err := protojson.Unmarshal(decision.Body, out); err != nil {
			s.logger.WithError(err).WithField("idempotency_key", key).Warn("Failed to decode cached idempotency response")
			return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
		}
		return out, nil
	}

	result, ok := run(s.runContext(ctx))
	body, err := json.Marshal(result)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}

	store := s.guard.Complete
	if !ok {
		store = s.guard.Fail
	}
	// HTTP-статус 200: ответ воспроизводим через любой транспорт.
	if err := store(key, body, 200); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("Failed to store idempotent response")
	}

	out := new(structpb.Struct)
	if err := protojson.Unmarshal(body, out); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

func (s *OrderAutomationService) runContext(ctx context.Context) context.Context {
	runID := uuid.NewString()
	if err := grpc.SetHeader(ctx, metadata.Pairs(RunIDHeader, runID)); err != nil {
		s.logger.WithError(err).Debug("Failed to set run id header")
	}
	return automation.ContextWithRunID(ctx, runID)
}

func (s *OrderAutomationService) encode(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

func readIdempotencyKey(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(idempotencyKeyHeader); len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

// fromStruct раскладывает Struct в доменный тип через JSON.
func fromStruct(in *structpb.Struct, dst any) error {
	if in == nil {
		return errors.New("request is required")
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}
