package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stayledger/internal/accruals"
	jobmetrics "github.com/odyssey-erp/stayledger/internal/jobs"
)

// TaskAccrualIntegrity compares posted lines with record deltas.
const TaskAccrualIntegrity = "accruals:integrity"

// AccrualIntegrityPayload scopes the check; a nil ledger checks every ledger.
type AccrualIntegrityPayload struct {
	LedgerID *uuid.UUID `json:"ledger_id,omitempty"`
}

// NewAccrualIntegrityTask constructs an Asynq task.
func NewAccrualIntegrityTask(ledgerID *uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(AccrualIntegrityPayload{LedgerID: ledgerID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAccrualIntegrity, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// Verifier lists records whose lines disagree with their delta.
type Verifier interface {
	Verify(ctx context.Context, ledgerID *uuid.UUID) ([]accruals.Mismatch, error)
}

// AccrualIntegrityJob runs the verifier and reports mismatches.
type AccrualIntegrityJob struct {
	Verifier Verifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle processes TaskAccrualIntegrity tasks. Mismatches are logged and
// exported as a gauge; they do not fail the task.
func (j *AccrualIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Verifier == nil {
		return errors.New("accrual integrity: verifier not configured")
	}
	var payload AccrualIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskAccrualIntegrity)
	logger := loggerFor(j.Logger, TaskAccrualIntegrity)

	mismatches, err := j.Verifier.Verify(ctx, payload.LedgerID)
	if err != nil {
		logger.Error("verify accruals", slog.Any("error", err))
		return tracker.End(err)
	}
	scope := ""
	if payload.LedgerID != nil {
		scope = payload.LedgerID.String()
	}
	metrics.SetMismatches(scope, len(mismatches))
	for _, m := range mismatches {
		logger.Warn("accrual mismatch",
			slog.String("record_id", m.RecordID.String()),
			slog.String("ledger_id", m.LedgerID.String()),
			slog.String("account", string(m.Account)),
			slog.Int64("expected_cents", m.Expected),
			slog.Int64("posted_cents", m.Posted),
		)
	}
	logger.Info("accrual integrity check executed", slog.Int("mismatches", len(mismatches)))
	return tracker.End(nil)
}
