package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/hirebirhan/amtradingplc/internal/inventory"
	jobmetrics "github.com/hirebirhan/amtradingplc/internal/jobs"
)

type fakeMarker struct {
	asOf   time.Time
	marked int64
	err    error
}

func (f *fakeMarker) MarkOverdue(_ context.Context, asOf time.Time) (int64, error) {
	f.asOf = asOf
	return f.marked, f.err
}

type fakeScanner struct {
	pageSize   int
	violations []inventory.Violation
}

func (f *fakeScanner) ScanIntegrity(_ context.Context, pageSize int) ([]inventory.Violation, error) {
	f.pageSize = pageSize
	return f.violations, nil
}

type fakeCleaner struct {
	olderThan time.Duration
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 4, nil
}

func TestOverdueSweepUsesPayloadDate(t *testing.T) {
	marker := &fakeMarker{marked: 3}
	job := NewOverdueSweepJob(marker, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	asOf := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	task, err := NewOverdueSweepTask(asOf)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, marker.asOf.Equal(asOf))
}

func TestOverdueSweepDefaultsToClockAndPropagatesErrors(t *testing.T) {
	marker := &fakeMarker{err: errors.New("db down")}
	job := NewOverdueSweepJob(marker, nil, nil)
	now := time.Date(2026, 5, 2, 3, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }
	task, err := NewOverdueSweepTask(time.Time{})
	require.NoError(t, err)

	require.EqualError(t, job.Handle(context.Background(), task), "db down")
	require.True(t, marker.asOf.Equal(now))
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	job := NewOverdueSweepJob(&fakeMarker{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskCreditOverdueSweep, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestIntegrityScanCountsViolationsPerWarehouse(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	scanner := &fakeScanner{violations: []inventory.Violation{
		{Balance: inventory.Balance{WarehouseID: 1, ItemID: 7, PieceCount: -1, TotalUnits: decimal.Zero}, Reason: "negative piece count"},
		{Balance: inventory.Balance{WarehouseID: 1, ItemID: 8, PieceCount: 1, TotalUnits: decimal.NewFromInt(90)}, Reason: "units exceed pieces"},
		{Balance: inventory.Balance{WarehouseID: 2, ItemID: 7, PieceCount: 0, TotalUnits: decimal.NewFromInt(3)}, Reason: "units without pieces"},
	}}
	job := NewIntegrityScanJob(scanner, nil, metrics)
	task, err := NewIntegrityScanTask(250)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 250, scanner.pageSize)

	count, err := testutil.GatherAndCount(registry, "amtrading_stock_integrity_violations_total")
	require.NoError(t, err)
	require.Equal(t, 2, count, "one series per warehouse")
	count, err = testutil.GatherAndCount(registry, "amtrading_jobs_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, nil, nil)
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, defaultKeyRetention, cleaner.olderThan)
}

func TestTaskPayloads(t *testing.T) {
	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, TaskIdempotencyCleanup, task.Type())
	var payload IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, 48*time.Hour, payload.KeepFor)
}

type fakeEnqueuer struct {
	err error
}

func (f fakeEnqueuer) EnqueueOverdueSweep(context.Context, time.Time) (*asynq.TaskInfo, error) {
	return &asynq.TaskInfo{ID: "t1", Queue: QueueDefault}, f.err
}

func (f fakeEnqueuer) EnqueueIntegrityScan(context.Context, int, time.Duration) (*asynq.TaskInfo, error) {
	return &asynq.TaskInfo{ID: "t2", Queue: QueueDefault}, f.err
}

func TestHandlerEndpoints(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, fakeEnqueuer{}, nil).MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rr.Body.String())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/integrity-scan", nil))
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.JSONEq(t, `{"id":"t2","queue":"default"}`, rr.Body.String())

	dup := chi.NewRouter()
	dup.Route("/jobs", NewHandler(nil, fakeEnqueuer{err: asynq.ErrDuplicateTask}, nil).MountRoutes)
	rr = httptest.NewRecorder()
	dup.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/integrity-scan", nil))
	require.Equal(t, http.StatusConflict, rr.Code)
}
