// Package health сводит проверки зависимостей в ответы /healthz и /readyz.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const defaultCheckTimeout = 2 * time.Second

// Probe проверяет один компонент и обязана уважать ctx.
type Probe func(ctx context.Context) error

type component struct {
	critical bool
	probe    Probe
}

// Check: результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Critical   bool   `json:"critical"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Report: тело ответа /healthz.
type Report struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Checks        map[string]Check `json:"checks,omitempty"`
}

// Handler хранит зарегистрированные компоненты.
// Сбой критичного компонента делает сервис unhealthy, необязательного только degraded.
type Handler struct {
	mu         sync.RWMutex
	components map[string]component
	version    string
	started    time.Time
	timeout    time.Duration
}

func NewHandler(version string) *Handler {
	return &Handler{
		components: make(map[string]component),
		version:    version,
		started:    time.Now(),
		timeout:    defaultCheckTimeout,
	}
}

// Critical регистрирует компонент, без которого сервис не принимает заказы.
func (h *Handler) Critical(name string, probe Probe) {
	h.register(name, component{critical: true, probe: probe})
}

// Optional регистрирует компонент, без которого сервис работает (кэш, брокер).
func (h *Handler) Optional(name string, probe Probe) {
	h.register(name, component{probe: probe})
}

func (h *Handler) register(name string, c component) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = c
}

// Names возвращает имена компонентов по алфавиту.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.components))
	for name := range h.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate опрашивает все компоненты параллельно с общим таймаутом.
func (h *Handler) Evaluate(ctx context.Context) Report {
	h.mu.RLock()
	components := make(map[string]component, len(h.components))
	for name, c := range h.components {
		components[name] = c
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		g      errgroup.Group
		checks = make(map[string]Check, len(components))
	)
	for name, c := range components {
		g.Go(func() error {
			check := run(ctx, name, c)
			mu.Lock()
			checks[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return Report{
		Status:        overall(checks),
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Checks:        checks,
	}
}

func run(ctx context.Context, name string, c component) Check {
	start := time.Now()
	err := c.probe(ctx)
	check := Check{Name: name, Status: StatusHealthy, Critical: c.critical, DurationMs: time.Since(start).Milliseconds()}
	switch {
	case err == nil:
	case c.critical:
		check.Status, check.Message = StatusUnhealthy, err.Error()
	default:
		check.Status, check.Message = StatusDegraded, err.Error()
	}
	return check
}

func overall(checks map[string]Check) Status {
	status := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// ServeHTTP отдаёт полный отчёт. degraded не выводит сервис из балансировки.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Evaluate(r.Context())

	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// LivenessHandler отвечает 200, пока процесс жив.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503 и перечисляет упавшие критичные компоненты.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	report := h.Evaluate(r.Context())
	if report.Status != StatusUnhealthy {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}

	var down []string
	for name, check := range report.Checks {
		if check.Status == StatusUnhealthy {
			down = append(down, name)
		}
	}
	sort.Strings(down)
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready: " + strings.Join(down, ", ")))
}
