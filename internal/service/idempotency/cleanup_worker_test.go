package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/voiceorder/internal/domain"
	"github.com/vladislavdragonenkov/voiceorder/internal/metrics"
	"github.com/vladislavdragonenkov/voiceorder/internal/storage/memory"
)

// batchRepo отдаёт заранее заданные результаты DeleteExpired по порядку.
type batchRepo struct {
	domain.IdempotencyRepository

	mu      sync.Mutex
	results []int
	errs    map[int]error
	limits  []int
}

func (r *batchRepo) DeleteExpired(_ time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	call := len(r.limits)
	r.limits = append(r.limits, limit)
	if err := r.errs[call]; err != nil {
		return 1, err
	}
	if call >= len(r.results) {
		return 0, nil
	}
	return r.results[call], nil
}

func (r *batchRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limits)
}

func TestCleanupConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := CleanupConfig{Interval: -time.Second, BatchSize: -1}.withDefaults()
	require.Equal(t, defaultCleanupInterval, cfg.Interval)
	require.Equal(t, defaultCleanupBatchSize, cfg.BatchSize)
	require.NotNil(t, cfg.Logger)
	require.NotNil(t, cfg.Now)

	kept := CleanupConfig{Interval: time.Minute, BatchSize: 7}.withDefaults()
	require.Equal(t, time.Minute, kept.Interval)
	require.Equal(t, 7, kept.BatchSize)
}

func TestCleanupWorker_Sweep(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	tests := []struct {
		name      string
		results   []int
		errs      map[int]error
		wantTotal int
		wantCalls int
		wantErr   error
	}{
		{name: "nothing expired", results: []int{0}, wantTotal: 0, wantCalls: 1},
		{name: "stops on partial batch", results: []int{3, 3, 1}, wantTotal: 7, wantCalls: 3},
		{name: "exact multiple needs an empty batch", results: []int{3, 3, 0}, wantTotal: 6, wantCalls: 3},
		{name: "error keeps partial count", results: []int{3}, errs: map[int]error{1: boom}, wantTotal: 4, wantCalls: 2, wantErr: boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo := &batchRepo{results: tt.results, errs: tt.errs}
			worker := NewCleanupWorker(repo, CleanupConfig{BatchSize: 3})

			total, err := worker.Sweep(context.Background(), time.Now())
			require.ErrorIs(t, err, tt.wantErr)
			require.Equal(t, tt.wantTotal, total)
			require.Equal(t, tt.wantCalls, repo.calls())
			for _, limit := range repo.limits {
				require.Equal(t, 3, limit)
			}
		})
	}
}

func TestCleanupWorker_SweepCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := &batchRepo{results: []int{5}}
	total, err := NewCleanupWorker(repo, CleanupConfig{}).Sweep(ctx, time.Time{})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, total)
	require.Zero(t, repo.calls())
}

func TestCleanupWorker_RunUntilCancelled(t *testing.T) {
	t.Parallel()

	repo := &batchRepo{}
	worker := NewCleanupWorker(repo, CleanupConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool { return repo.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestCleanupWorker_NilRepositoryReturnsImmediately(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewCleanupWorker(nil, CleanupConfig{}).Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run without repository must return")
	}
}

func TestCleanupWorker_TickRecordsMetrics(t *testing.T) {
	t.Parallel()

	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()
	for _, key := range []string{"expired-1", "expired-2"} {
		_, err := repo.CreateProcessing(key, "hash", now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing("live", "hash", now.Add(time.Hour))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	worker := NewCleanupWorker(repo, CleanupConfig{
		BatchSize: 1,
		Metrics:   metrics.NewPipelineMetricsWithRegisterer(reg),
		Now:       func() time.Time { return now },
	})
	worker.tick(context.Background())

	_, err = repo.Get("expired-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get("live")
	require.NoError(t, err)

	require.Equal(t, 2.0, lastDeleted(t, reg))

	failing := NewCleanupWorker(&batchRepo{errs: map[int]error{0: errors.New("down")}}, CleanupConfig{
		Metrics: metrics.NewPipelineMetricsWithRegisterer(prometheus.NewRegistry()),
	})
	failing.tick(context.Background())
}

func lastDeleted(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == "voiceorder_idempotency_cleanup_last_deleted" {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("cleanup gauge is not registered")
	return 0
}
