package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hirebirhan/amtradingplc/internal/inventory"
	jobmetrics "github.com/hirebirhan/amtradingplc/internal/jobs"
)

// IntegrityScanner walks stock balances looking for broken invariants.
type IntegrityScanner interface {
	ScanIntegrity(ctx context.Context, pageSize int) ([]inventory.Violation, error)
}

// IntegrityScanJob reports stock balances that break the ledger invariants.
// It never repairs them; repairs go through adjustments.
type IntegrityScanJob struct {
	Scanner IntegrityScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIntegrityScanJob initialises the integrity scan handler.
func NewIntegrityScanJob(scanner IntegrityScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{Scanner: scanner, Logger: logger, Metrics: metrics}
}

// Handle executes the scan.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Scanner == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	tracker := j.Metrics.Track(TaskInventoryIntegrityScan)
	defer func() {
		err = tracker.End(err)
	}()

	logger := jobLogger(j.Logger).With(slog.Int("page_size", payload.PageSize))
	violations, err := j.Scanner.ScanIntegrity(ctx, payload.PageSize)
	if err != nil {
		logger.Error("integrity scan failed", slog.Any("error", err))
		return err
	}
	perWarehouse := make(map[int64]int)
	for _, v := range violations {
		logger.Warn("stock balance violates invariant",
			slog.Int64("warehouse_id", v.Balance.WarehouseID),
			slog.Int64("item_id", v.Balance.ItemID),
			slog.Int64("piece_count", v.Balance.PieceCount),
			slog.String("total_units", v.Balance.TotalUnits.String()),
			slog.String("reason", v.Reason),
		)
		perWarehouse[v.Balance.WarehouseID]++
	}
	for wh, count := range perWarehouse {
		j.Metrics.AddViolations(wh, count)
	}
	logger.Info("completed integrity scan",
		slog.Int("violations", len(violations)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
