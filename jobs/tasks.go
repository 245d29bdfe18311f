package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCreditOverdueSweep marks credits past their due date as overdue.
	TaskCreditOverdueSweep = "credit:overdue_sweep"
	// TaskInventoryIntegrityScan checks every stock balance against the ledger invariants.
	TaskInventoryIntegrityScan = "inventory:integrity_scan"
	// TaskIdempotencyCleanup drops expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// OverdueSweepPayload carries the cut-off date. A zero AsOf means today.
type OverdueSweepPayload struct {
	AsOf time.Time `json:"as_of"`
}

// IntegrityScanPayload carries the balance page size.
type IntegrityScanPayload struct {
	PageSize int `json:"page_size"`
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	KeepFor time.Duration `json:"keep_for"`
}

// NewOverdueSweepTask constructs an Asynq task for the overdue sweep.
func NewOverdueSweepTask(asOf time.Time) (*asynq.Task, error) {
	return newTask(TaskCreditOverdueSweep, OverdueSweepPayload{AsOf: asOf})
}

// NewIntegrityScanTask constructs an Asynq task for the stock integrity scan.
func NewIntegrityScanTask(pageSize int) (*asynq.Task, error) {
	return newTask(TaskInventoryIntegrityScan, IntegrityScanPayload{PageSize: pageSize})
}

// NewIdempotencyCleanupTask constructs an Asynq task for key cleanup.
func NewIdempotencyCleanupTask(keepFor time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{KeepFor: keepFor})
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}
