// Команда order-client вызывает gRPC API сервиса: ищет блюдо и, по флагу -confirm,
// сразу оформляет заказ. Печатает ответы в JSON и время каждого вызова.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	grpcsvc "github.com/vladislavdragonenkov/voiceorder/internal/service/grpc"
)

const idempotencyHeader = "idempotency-key"

type config struct {
	addr           string
	timeout        time.Duration
	restaurant     string
	meal           string
	confirm        bool
	idempotencyKey string
	outputPath     string
}

// orderAutomation: клиентская сторона gRPC-сервиса.
type orderAutomation interface {
	CreateOrder(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ConfirmOrder(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type callReport struct {
	Method    string          `json:"method"`
	RunID     string          `json:"runId,omitempty"`
	Replayed  bool            `json:"replayed,omitempty"`
	LatencyMs float64         `json:"latencyMs"`
	Code      string          `json:"code"`
	Response  json.RawMessage `json:"response,omitempty"`
}

type report struct {
	Target string       `json:"target"`
	Calls  []callReport `json:"calls"`
}

func parseConfig(args []string) (config, error) {
	var cfg config
	flags := flag.NewFlagSet("order-client", flag.ContinueOnError)
	flags.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	flags.DurationVar(&cfg.timeout, "timeout", 3*time.Minute, "per-RPC timeout; a call drives a real browser session")
	flags.StringVar(&cfg.restaurant, "restaurant", "", "spoken restaurant name")
	flags.StringVar(&cfg.meal, "meal", "", "spoken meal name")
	flags.BoolVar(&cfg.confirm, "confirm", false, "place the order after a successful lookup")
	flags.StringVar(&cfg.idempotencyKey, "idempotency-key", "", "key for ConfirmOrder; generated when -confirm is set and the key is empty")
	flags.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := flags.Parse(args); err != nil {
		return cfg, err
	}

	cfg.restaurant = strings.TrimSpace(cfg.restaurant)
	cfg.meal = strings.TrimSpace(cfg.meal)
	if cfg.restaurant == "" || cfg.meal == "" {
		return cfg, errors.New("restaurant and meal are required")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.confirm && strings.TrimSpace(cfg.idempotencyKey) == "" {
		cfg.idempotencyKey = uuid.NewString()
	}
	return cfg, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	result, err := run(context.Background(), cfg, grpcsvc.NewOrderAutomationClient(conn), os.Stdout)
	if cfg.outputPath != "" {
		if writeErr := writeJSONReport(cfg.outputPath, result); writeErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", writeErr)
		}
	}
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// run выполняет CreateOrder и при необходимости ConfirmOrder. Ошибка возвращается
// и для gRPC-сбоя, и для неуспешного результата пайплайна.
func run(ctx context.Context, cfg config, client orderAutomation, out io.Writer) (report, error) {
	result := report{Target: cfg.addr}

	req, err := structpb.NewStruct(map[string]any{"restaurant": cfg.restaurant, "meal": cfg.meal})
	if err != nil {
		return result, err
	}
	created, call, err := invoke(ctx, cfg.timeout, "CreateOrder", client.CreateOrder, req)
	result.Calls = append(result.Calls, call)
	printCall(out, call)
	if err != nil {
		return result, err
	}
	if msg := created.Fields["error"].GetStringValue(); msg != "" {
		return result, fmt.Errorf("order lookup failed: %s", msg)
	}
	if !cfg.confirm {
		return result, nil
	}

	confirmCtx := metadata.AppendToOutgoingContext(ctx, idempotencyHeader, cfg.idempotencyKey)
	placed, call, err := invoke(confirmCtx, cfg.timeout, "ConfirmOrder", client.ConfirmOrder, created)
	result.Calls = append(result.Calls, call)
	printCall(out, call)
	if err != nil {
		return result, err
	}
	if placed.Fields["status"].GetStringValue() != "confirmed" {
		return result, fmt.Errorf("order was not placed: %s", placed.Fields["error"].GetStringValue())
	}
	return result, nil
}

func invoke(
	ctx context.Context,
	timeout time.Duration,
	method string,
	call func(context.Context, *structpb.Struct, ...grpc.CallOption) (*structpb.Struct, error),
	req *structpb.Struct,
) (*structpb.Struct, callReport, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var header metadata.MD
	started := time.Now()
	resp, err := call(ctx, req, grpc.Header(&header))
	rep := callReport{
		Method:    method,
		LatencyMs: float64(time.Since(started).Microseconds()) / 1000,
		Code:      status.Code(err).String(),
	}
	if ids := header.Get(grpcsvc.RunIDHeader); len(ids) > 0 {
		rep.RunID = ids[0]
	}
	rep.Replayed = len(header.Get(grpcsvc.ReplayedHeader)) > 0
	if err != nil {
		return nil, rep, fmt.Errorf("%s failed: %w", method, err)
	}
	if raw, marshalErr := protojson.Marshal(resp); marshalErr == nil {
		rep.Response = raw
	}
	return resp, rep, nil
}

func printCall(out io.Writer, call callReport) {
	_, _ = fmt.Fprintf(out, "%s code=%s latency=%.1fms run=%s", call.Method, call.Code, call.LatencyMs, call.RunID)
	if call.Replayed {
		_, _ = fmt.Fprint(out, " replayed")
	}
	_, _ = fmt.Fprintln(out)
	if len(call.Response) > 0 {
		_, _ = fmt.Fprintf(out, "%s\n", call.Response)
	}
}

func writeJSONReport(path string, result report) error {
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}
