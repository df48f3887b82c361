package bookings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stayledger/internal/accruals"
	"github.com/odyssey-erp/stayledger/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBooking(ctx context.Context, id uuid.UUID) (Booking, error)
	ListRecords(ctx context.Context, bookingID uuid.UUID) ([]Record, error)
}

// Poster materializes a record's accrual lines.
type Poster interface {
	PostRecord(ctx context.Context, recordID uuid.UUID) (accruals.PostResult, error)
}

// LineCounter observes journal lines removed alongside a record.
type LineCounter interface {
	AddLines(outcome string, count int)
}

// Enqueuer defers reconstruction and posting to the worker.
type Enqueuer interface {
	EnqueueRecordChanged(ctx context.Context, bookingID, recordID uuid.UUID) error
}

// Service owns booking records and the snapshot derived from them.
type Service struct {
	repo     RepositoryPort
	poster   Poster
	enqueuer Enqueuer
	audit    shared.AuditRecorder
	lines    LineCounter
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the booking service. poster may be nil when lines
// are handled elsewhere.
func NewService(repo RepositoryPort, poster Poster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, poster: poster, logger: logger, now: time.Now}
}

// WithEnqueuer queues posting instead of running it inline.
func (s *Service) WithEnqueuer(enqueuer Enqueuer) {
	s.enqueuer = enqueuer
}

// WithAudit records lifecycle events into the audit trail.
func (s *Service) WithAudit(audit shared.AuditRecorder) {
	s.audit = audit
}

// WithLineCounter reports lines removed by DeleteRecord.
func (s *Service) WithLineCounter(lines LineCounter) {
	s.lines = lines
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetBooking reads a booking and its records in replay order without locking.
func (s *Service) GetBooking(ctx context.Context, bookingID uuid.UUID) (BookingDetail, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return BookingDetail{}, err
	}
	records, err := s.repo.ListRecords(ctx, bookingID)
	if err != nil {
		return BookingDetail{}, err
	}
	return BookingDetail{Booking: booking, Records: records}, nil
}

// ReconstructBooking replays the booking's records and stores the snapshot.
// It returns nil without writing when the booking has no records.
func (s *Service) ReconstructBooking(ctx context.Context, bookingID uuid.UUID) (*Snapshot, error) {
	var snap *Snapshot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetBookingForUpdate(ctx, bookingID); err != nil {
			return err
		}
		var err error
		snap, err = s.reconstruct(ctx, tx, bookingID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// AppendRecord stores a new record, reconstructs the booking and posts the record.
func (s *Service) AppendRecord(ctx context.Context, in RecordInput) (ChangeResult, error) {
	if err := in.Validate(); err != nil {
		return ChangeResult{}, err
	}
	var result ChangeResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetBookingForUpdate(ctx, in.BookingID); err != nil {
			return err
		}
		rec, err := tx.InsertRecord(ctx, in)
		if err != nil {
			return err
		}
		result.Record = rec
		result.Snapshot, err = s.reconstruct(ctx, tx, in.BookingID)
		return err
	})
	if err != nil {
		return ChangeResult{}, err
	}
	s.record(ctx, in.Actor, "booking_record.append", result.Record)
	return s.post(ctx, result)
}

// PatchRecord amends a record, reconstructs the booking and re-posts the record.
func (s *Service) PatchRecord(ctx context.Context, recordID uuid.UUID, patch RecordPatch) (ChangeResult, error) {
	var result ChangeResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRecordForUpdate(ctx, recordID)
		if err != nil {
			return err
		}
		if _, err := tx.GetBookingForUpdate(ctx, current.BookingID); err != nil {
			return err
		}
		updated, err := patch.Apply(current)
		if err != nil {
			return err
		}
		if err := tx.UpdateRecord(ctx, updated); err != nil {
			return err
		}
		result.Record = updated
		result.Snapshot, err = s.reconstruct(ctx, tx, current.BookingID)
		return err
	})
	if err != nil {
		return ChangeResult{}, err
	}
	s.record(ctx, patch.Actor, "booking_record.patch", result.Record)
	return s.post(ctx, result)
}

// DeleteRecord removes the record's lines and the record, then reconstructs
// the booking from what remains. All three happen in one transaction.
func (s *Service) DeleteRecord(ctx context.Context, recordID uuid.UUID, actor string) (ChangeResult, error) {
	var result ChangeResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRecordForUpdate(ctx, recordID)
		if err != nil {
			return err
		}
		if _, err := tx.GetBookingForUpdate(ctx, current.BookingID); err != nil {
			return err
		}
		removed, err := tx.DeleteLines(ctx, recordID)
		if err != nil {
			return err
		}
		if err := tx.DeleteRecord(ctx, recordID); err != nil {
			return err
		}
		result.Record = current
		result.Lines = removed
		result.Snapshot, err = s.reconstruct(ctx, tx, current.BookingID)
		return err
	})
	if err != nil {
		return ChangeResult{}, err
	}
	if s.lines != nil {
		s.lines.AddLines("removed", result.Lines)
	}
	s.record(ctx, actor, "booking_record.delete", result.Record)
	return result, nil
}

func (s *Service) reconstruct(ctx context.Context, tx TxRepository, bookingID uuid.UUID) (*Snapshot, error) {
	records, err := tx.ListRecords(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		s.logger.Warn("booking has no records, snapshot left unchanged", slog.String("booking_id", bookingID.String()))
		return nil, nil
	}
	snap, issues := Reconstruct(records)
	for _, issue := range issues {
		s.logger.Warn("booking replay inconsistency",
			slog.String("booking_id", bookingID.String()),
			slog.String("record_id", issue.RecordID.String()),
			slog.String("kind", string(issue.Kind)),
			slog.String("type", string(issue.Type)),
		)
	}
	if err := tx.UpdateSnapshot(ctx, bookingID, snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Service) post(ctx context.Context, result ChangeResult) (ChangeResult, error) {
	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueRecordChanged(ctx, result.Record.BookingID, result.Record.ID); err != nil {
			return result, fmt.Errorf("bookings: enqueue posting: %w", err)
		}
		result.Queued = true
		return result, nil
	}
	if s.poster == nil {
		return result, nil
	}
	posted, err := s.poster.PostRecord(ctx, result.Record.ID)
	if err != nil {
		return result, fmt.Errorf("bookings: post record: %w", err)
	}
	result.Lines = posted.PostedLines
	return result, nil
}

func (s *Service) record(ctx context.Context, actor, action string, rec Record) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "booking_record",
		EntityID: rec.ID.String(),
		Meta: map[string]any{
			"booking_id":         rec.BookingID.String(),
			"type":               string(rec.Type),
			"payout_delta_cents": rec.PayoutDeltaCents,
		},
		At: s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
