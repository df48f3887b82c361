package accruals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stayledger/internal/allocation"
	"github.com/odyssey-erp/stayledger/internal/calendar"
	jobmetrics "github.com/odyssey-erp/stayledger/internal/jobs"
)

const conflictRetries = 3

// RepositoryPort abstracts transactional and read-only store behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	RecordIDsForRange(ctx context.Context, ledgerID uuid.UUID, from, to time.Time) ([]uuid.UUID, error)
	MonthlySummary(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error)
	ListSources(ctx context.Context, ledgerID *uuid.UUID) ([]Source, error)
	PostedTotals(ctx context.Context, ledgerID *uuid.UUID) (map[uuid.UUID]map[Account]int64, error)
}

// Publisher announces committed postings.
type Publisher interface {
	PublishPosted(ctx context.Context, event PostedEvent) error
}

// Service materializes booking records into monthly journal lines.
type Service struct {
	repo      RepositoryPort
	locations *calendar.Locations
	rules     []PostingRule
	publisher Publisher
	metrics   *jobmetrics.Metrics
	logger    *slog.Logger
}

// NewService constructs the posting service.
func NewService(repo RepositoryPort, locations *calendar.Locations, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, locations: locations, rules: DefaultRules, logger: logger}
}

// WithPublisher announces each committed posting.
func (s *Service) WithPublisher(p Publisher) {
	s.publisher = p
}

// WithMetrics instruments postings.
func (s *Service) WithMetrics(m *jobmetrics.Metrics) {
	s.metrics = m
}

// WithRules replaces the account mapping.
func (s *Service) WithRules(rules []PostingRule) {
	if len(rules) > 0 {
		s.rules = rules
	}
}

// PostRecord partitions and allocates the record's own delta and upserts one
// line per month and account. Running it again with unchanged inputs
// rewrites the same amounts.
func (s *Service) PostRecord(ctx context.Context, recordID uuid.UUID) (PostResult, error) {
	tracker := s.metrics.Track("accrual_post")
	var (
		result PostResult
		err    error
	)
	for attempt := 0; attempt < conflictRetries; attempt++ {
		result, err = s.postOnce(ctx, recordID)
		if !errors.Is(err, ErrConflict) {
			break
		}
		s.logger.Warn("accrual posting conflict, retrying", slog.String("record_id", recordID.String()), slog.Int("attempt", attempt+1))
	}
	if err := tracker.End(err); err != nil {
		return PostResult{}, err
	}
	s.metrics.AddLines("created", result.Created)
	s.metrics.AddLines("updated", result.Updated)
	s.metrics.AddLines("removed", result.Removed)
	s.publish(ctx, result)
	return result, nil
}

func (s *Service) postOnce(ctx context.Context, recordID uuid.UUID) (PostResult, error) {
	var result PostResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		src, err := tx.LoadSource(ctx, recordID)
		if err != nil {
			return err
		}
		loc, tzName, err := s.locations.Resolve(src.Timezone())
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidTimezone, src.Timezone(), err)
		}

		buckets := calendar.Partition(src.RangeStart, src.RangeEnd, loc)
		weights := make([]allocation.Bucket, len(buckets))
		for i, b := range buckets {
			weights[i] = allocation.Bucket{Key: b.Key(), Weight: int64(b.Days)}
		}

		result = PostResult{RecordID: src.RecordID, LedgerID: src.LedgerID, Timezone: tzName}
		touched := make(map[string]struct{})
		for _, rule := range s.rules {
			alloc, err := allocation.Allocate(rule.Amount(src), weights)
			if err != nil {
				return fmt.Errorf("accruals: allocate %s: %w", rule.Account, err)
			}
			keep := make([]uuid.UUID, 0, len(alloc.Shares))
			for i, share := range alloc.Shares {
				month := buckets[i].Month
				if share.Cents == 0 {
					journalID, ok, err := tx.ZeroExistingLine(ctx, src.LedgerID, month, src.RecordID, rule.Account)
					if err != nil {
						return err
					}
					if ok {
						keep = append(keep, journalID)
						touched[share.Key] = struct{}{}
						result.Updated++
						result.PostedLines++
					}
					continue
				}
				entry, err := tx.UpsertEntry(ctx, src.LedgerID, month, entryMemo(month))
				if err != nil {
					return err
				}
				outcome, err := tx.UpsertLine(ctx, JournalLine{
					JournalID:       entry.ID,
					BookingRecordID: src.RecordID,
					Account:         rule.Account,
					AmountCents:     share.Cents,
				})
				if err != nil {
					return err
				}
				if outcome == LineCreated {
					result.Created++
				} else {
					result.Updated++
				}
				keep = append(keep, entry.ID)
				touched[share.Key] = struct{}{}
				result.PostedLines++
			}
			removed, err := tx.DeleteStaleLines(ctx, src.RecordID, rule.Account, keep)
			if err != nil {
				return err
			}
			result.Removed += removed
			result.TotalAllocatedCents += alloc.Sum()
		}
		result.MonthsTouched = len(touched)
		result.Months = sortedKeys(touched)

		if src.TZSnapshot == "" {
			if err := tx.SetTZSnapshot(ctx, src.RecordID, tzName); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PostResult{}, err
	}
	return result, nil
}

// UnpostRecord removes every line of the record and reports how many went.
func (s *Service) UnpostRecord(ctx context.Context, recordID uuid.UUID) (int, error) {
	var removed int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		removed, err = tx.DeleteLines(ctx, recordID)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.metrics.AddLines("removed", removed)
	return removed, nil
}

// RecordIDsForRange lists a ledger's records overlapping months from..to.
func (s *Service) RecordIDsForRange(ctx context.Context, ledgerID uuid.UUID, from, to time.Time) ([]uuid.UUID, error) {
	if to.Before(from) {
		return nil, ErrInvalidMonth
	}
	return s.repo.RecordIDsForRange(ctx, ledgerID, from, to)
}

// MonthlySummary returns posted totals computed from the stored lines.
func (s *Service) MonthlySummary(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, ErrInvalidMonth
	}
	if filter.Account != "" && !filter.Account.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAccount, filter.Account)
	}
	return s.repo.MonthlySummary(ctx, filter)
}

func (s *Service) publish(ctx context.Context, result PostResult) {
	if s.publisher == nil {
		return
	}
	event := PostedEvent{LedgerID: result.LedgerID, RecordID: result.RecordID, Months: result.Months}
	if err := s.publisher.PublishPosted(ctx, event); err != nil {
		s.logger.Warn("publish posting event", slog.String("record_id", result.RecordID.String()), slog.Any("error", err))
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
