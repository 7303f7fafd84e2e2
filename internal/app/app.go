package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/voiceorder/internal/health"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/automation"
	grpcsvc "github.com/vladislavdragonenkov/voiceorder/internal/service/grpc"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/idempotency"
	"github.com/vladislavdragonenkov/voiceorder/internal/transport/httpapi"
)

const (
	readHeaderTimeout  = 10 * time.Second
	grpcStopTimeout    = 5 * time.Second
	metricsStopTimeout = 5 * time.Second
)

// Run поднимает HTTP API, gRPC, метрики и воркер очистки ключей идемпотентности
// и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	pipeline := newPipeline(cfg, deps)
	guard := idempotency.NewGuard(deps.Idempotency, cfg.Idempotency.TTL, deps.Metrics, logger.WithField("component", "idempotency"))

	httpLis, grpcLis, err := listen(cfg)
	if err != nil {
		return err
	}

	api := newAPIServer(pipeline, guard, deps, logger)
	rpc := newGRPCRuntime(pipeline, guard, logger)
	ops := startMetricsServer(ctx, cfg.MetricsAddr, logger, deps.Health)
	cleanup := idempotency.NewCleanupWorker(deps.Idempotency, idempotency.CleanupConfig{
		Interval:  cfg.Idempotency.CleanupInterval,
		BatchSize: cfg.Idempotency.CleanupBatchSize,
		Logger:    logger.WithField("component", "idempotency-cleanup"),
		Metrics:   deps.Metrics,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		if err := api.Serve(httpLis); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http api: %w", err)
		}
		return nil
	})
	if grpcLis != nil {
		g.Go(func() error {
			logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
			if err := rpc.server.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		cleanup.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		rpc.stop(grpcStopTimeout, logger)
		shutdownHTTP(api, cfg.ShutdownTimeout, logger)
		shutdownHTTP(ops, metricsStopTimeout, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// listen открывает порты заранее, чтобы ошибка адреса возвращалась из Run, а не из горутины.
// Пустой GRPCAddr отключает gRPC.
func listen(cfg Config) (httpLis, grpcLis net.Listener, err error) {
	httpLis, err = net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	if cfg.GRPCAddr == "" {
		return httpLis, nil, nil
	}
	grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpLis.Close()
		return nil, nil, fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	return httpLis, grpcLis, nil
}

func newAPIServer(pipeline *automation.Pipeline, guard *idempotency.Guard, deps *Dependencies, logger *log.Entry) *http.Server {
	opts := []httpapi.Option{
		httpapi.WithRunLog(deps.Runs, deps.Timeline),
		httpapi.WithIdempotency(guard),
		httpapi.WithLogger(logger.WithField("layer", "http")),
	}
	if deps.Extractor != nil {
		opts = append(opts, httpapi.WithExtractor(deps.Extractor))
	}
	return &http.Server{
		Handler: httpapi.NewRouter(httpapi.NewHandler(pipeline, opts...)),
		// WriteTimeout не задан: ответ ждёт всю браузерную сессию.
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// grpcRuntime связывает сервер с его health-сервисом, чтобы при остановке сначала снять SERVING.
type grpcRuntime struct {
	server *grpc.Server
	health *health.Server
}

func newGRPCRuntime(pipeline *automation.Pipeline, guard *idempotency.Guard, logger *log.Entry) grpcRuntime {
	// DefaultServerMetrics регистрируется в DefaultRegisterer ещё в init пакета go-grpc-prometheus,
	// отдельный NewServerMetrics конфликтовал бы с ним по дескрипторам.
	serverMetrics := promgrpc.DefaultServerMetrics
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(serverMetrics.UnaryServerInterceptor()))

	grpcsvc.RegisterOrderAutomationServer(server, grpcsvc.NewOrderAutomationService(pipeline, guard, logger.WithField("layer", "grpc")))
	reflection.Register(server)

	hs := health.NewServer()
	for _, service := range []string{"", grpcsvc.ServiceName} {
		hs.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)
	}
	healthpb.RegisterHealthServer(server, hs)

	serverMetrics.InitializeMetrics(server)
	return grpcRuntime{server: server, health: hs}
}

// stop переводит health в NOT_SERVING и ждёт завершения вызовов не дольше timeout.
func (r grpcRuntime) stop(timeout time.Duration, logger *log.Entry) {
	r.health.Shutdown()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.server.GracefulStop()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		r.server.Stop()
	}
}

// startMetricsServer поднимает служебный HTTP-сервер с метриками и пробами. Пустой addr его отключает.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{Addr: addr, Handler: opsHandler(healthHandler), ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.WithField("addr", addr).Info("служебные эндпоинты: /metrics, /healthz, /livez, /readyz")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	context.AfterFunc(ctx, func() { shutdownHTTP(srv, metricsStopTimeout, logger) })
	return srv
}

func opsHandler(healthHandler *healthcheck.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// shutdownHTTP останавливает srv, давая активным запросам timeout на завершение. nil пропускается.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = metricsStopTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
