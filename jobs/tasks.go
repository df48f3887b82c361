package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stayledger/internal/accruals"
	"github.com/odyssey-erp/stayledger/internal/bookings"
	jobmetrics "github.com/odyssey-erp/stayledger/internal/jobs"
	"github.com/odyssey-erp/stayledger/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRecordChanged reconstructs a booking and posts one of its records.
	TaskRecordChanged = "booking:record_changed"
	// TaskPostRange re-posts every record of a ledger overlapping a month window.
	TaskPostRange = "accruals:post_range"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RecordChangedPayload identifies the record whose booking changed.
type RecordChangedPayload struct {
	BookingID uuid.UUID `json:"booking_id"`
	RecordID  uuid.UUID `json:"record_id"`
}

// NewRecordChangedTask constructs an Asynq task.
func NewRecordChangedTask(bookingID, recordID uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(RecordChangedPayload{BookingID: bookingID, RecordID: recordID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecordChanged, data, asynq.Queue(QueueDefault), asynq.MaxRetry(8)), nil
}

// BookingReconstructor rebuilds a booking snapshot.
type BookingReconstructor interface {
	ReconstructBooking(ctx context.Context, bookingID uuid.UUID) (*bookings.Snapshot, error)
}

// RecordPoster posts a single record.
type RecordPoster interface {
	PostRecord(ctx context.Context, recordID uuid.UUID) (accruals.PostResult, error)
}

// RecordChangedJob replays the booking then posts the record.
type RecordChangedJob struct {
	Bookings BookingReconstructor
	Poster   RecordPoster
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle processes TaskRecordChanged tasks. A record or booking that no
// longer exists is not retried.
func (j *RecordChangedJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Bookings == nil || j.Poster == nil {
		return errors.New("record changed: dependencies not configured")
	}
	var payload RecordChangedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.BookingID == uuid.Nil || payload.RecordID == uuid.Nil {
		return asynq.SkipRetry
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskRecordChanged)
	logger := loggerFor(j.Logger, TaskRecordChanged).With(
		slog.String("booking_id", payload.BookingID.String()),
		slog.String("record_id", payload.RecordID.String()),
	)
	if _, err := j.Bookings.ReconstructBooking(ctx, payload.BookingID); err != nil {
		return tracker.End(skipIfGone(logger, "reconstruct booking", err))
	}
	result, err := j.Poster.PostRecord(ctx, payload.RecordID)
	if err != nil {
		return tracker.End(skipIfGone(logger, "post record", err))
	}
	logger.Info("record posted", slog.Int("lines", result.PostedLines), slog.Int("removed", result.Removed))
	return tracker.End(nil)
}

// PostRangePayload selects the records a range job re-posts.
type PostRangePayload struct {
	LedgerID uuid.UUID `json:"ledger_id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
}

// NewPostRangeTask constructs an Asynq task. Months are YYYY-MM.
func NewPostRangeTask(ledgerID uuid.UUID, from, to string) (*asynq.Task, error) {
	data, err := json.Marshal(PostRangePayload{LedgerID: ledgerID, From: from, To: to})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPostRange, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(30*time.Minute)), nil
}

// RangeSelector finds records overlapping a month window.
type RangeSelector interface {
	RecordIDsForRange(ctx context.Context, ledgerID uuid.UUID, from, to time.Time) ([]uuid.UUID, error)
}

// BatchRunner posts many records.
type BatchRunner interface {
	Run(ctx context.Context, ids []uuid.UUID) accruals.BatchReport
}

// PostRangeJob re-posts a ledger's records for a month window.
type PostRangeJob struct {
	Selector RangeSelector
	Batch    BatchRunner
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle processes TaskPostRange tasks. Per-record failures are logged and
// reported as a job failure so asynq retries the window.
func (j *PostRangeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Selector == nil || j.Batch == nil {
		return errors.New("post range: dependencies not configured")
	}
	var payload PostRangePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	from, err := accruals.ParseMonth(payload.From)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	to, err := accruals.ParseMonth(payload.To)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskPostRange)
	logger := loggerFor(j.Logger, TaskPostRange).With(slog.String("ledger_id", payload.LedgerID.String()))
	ids, err := j.Selector.RecordIDsForRange(ctx, payload.LedgerID, from, to)
	if err != nil {
		logger.Error("select records", slog.Any("error", err))
		return tracker.End(err)
	}
	report := j.Batch.Run(ctx, ids)
	logger.Info("range posted",
		slog.String("from", payload.From),
		slog.String("to", payload.To),
		slog.Int("total", report.Total),
		slog.Int("failed", report.Failed),
		slog.Int("lines", report.Lines),
	)
	if report.Failed > 0 {
		return tracker.End(fmt.Errorf("post range: %d of %d records failed", report.Failed, report.Total))
	}
	return tracker.End(nil)
}

func skipIfGone(logger *slog.Logger, step string, err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		logger.Warn(step+": target gone, not retrying", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	logger.Error(step, slog.Any("error", err))
	return err
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func loggerFor(logger *slog.Logger, job string) *slog.Logger {
	if logger != nil {
		return logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}
