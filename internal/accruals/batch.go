package accruals

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Poster posts a single record.
type Poster interface {
	PostRecord(ctx context.Context, recordID uuid.UUID) (PostResult, error)
}

// Failure is a record the batch could not post.
type Failure struct {
	RecordID uuid.UUID
	Err      error
}

// BatchReport summarises a batch run.
type BatchReport struct {
	Total     int
	Succeeded int
	Failed    int
	Lines     int
	Failures  []Failure
}

// Batch posts many records with bounded concurrency.
type Batch struct {
	poster      Poster
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewBatch constructs a Batch. Non-positive limits fall back to 6 workers and
// a 15s per-record timeout.
func NewBatch(poster Poster, concurrency int, timeout time.Duration, logger *slog.Logger) *Batch {
	if concurrency <= 0 {
		concurrency = 6
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batch{poster: poster, concurrency: concurrency, timeout: timeout, logger: logger}
}

// Run posts every id. A failing record is reported and never stops the rest.
func (b *Batch) Run(ctx context.Context, ids []uuid.UUID) BatchReport {
	report := BatchReport{Total: len(ids)}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(b.concurrency)
	for _, id := range ids {
		id := id
		if err := ctx.Err(); err != nil {
			mu.Lock()
			report.Failed++
			report.Failures = append(report.Failures, Failure{RecordID: id, Err: err})
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(ctx, b.timeout)
			defer cancel()
			result, err := b.poster.PostRecord(rctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				b.logger.Error("batch post record", slog.String("record_id", id.String()), slog.Any("error", err))
				report.Failed++
				report.Failures = append(report.Failures, Failure{RecordID: id, Err: err})
				return nil
			}
			report.Succeeded++
			report.Lines += result.PostedLines
			return nil
		})
	}
	_ = g.Wait()
	return report
}
