package accruals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stayledger/internal/platform/db"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	LoadSource(ctx context.Context, recordID uuid.UUID) (Source, error)
	UpsertEntry(ctx context.Context, ledgerID uuid.UUID, month time.Time, memo string) (JournalEntry, error)
	UpsertLine(ctx context.Context, line JournalLine) (UpsertOutcome, error)
	ZeroExistingLine(ctx context.Context, ledgerID uuid.UUID, month time.Time, recordID uuid.UUID, account Account) (uuid.UUID, bool, error)
	DeleteStaleLines(ctx context.Context, recordID uuid.UUID, account Account, keepJournals []uuid.UUID) (int, error)
	DeleteLines(ctx context.Context, recordID uuid.UUID) (int, error)
	SetTZSnapshot(ctx context.Context, recordID uuid.UUID, tz string) error
}

// Repository persists journal entries and lines.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a read-committed transaction. Entry and line
// contention is settled by unique constraints, not locks.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("accruals repository not initialised")
	}
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const selectSource = `SELECT br.id, br.booking_id, br.range_start, br.range_end, br.guest_delta_cents, br.payout_delta_cents,
COALESCE(br.tz_snapshot, ''), l.id, COALESCE(p.timezone, '')
FROM booking_records br
LEFT JOIN bookings b ON b.id = br.booking_id
LEFT JOIN rooms r ON r.id = b.room_id
LEFT JOIN properties p ON p.id = r.property_id
LEFT JOIN ledgers l ON l.id = p.ledger_id`

func (r *txRepository) LoadSource(ctx context.Context, recordID uuid.UUID) (Source, error) {
	src, err := scanSource(r.tx.QueryRow(ctx, selectSource+` WHERE br.id = $1 FOR UPDATE OF br`, recordID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Source{}, ErrRecordNotFound
		}
		if errors.Is(err, ErrLedgerChain) {
			return Source{}, err
		}
		return Source{}, fmt.Errorf("accruals: load record: %w", err)
	}
	return src, nil
}

func (r *txRepository) UpsertEntry(ctx context.Context, ledgerID uuid.UUID, month time.Time, memo string) (JournalEntry, error) {
	entry := JournalEntry{ID: uuid.New(), LedgerID: ledgerID, PeriodMonth: month, Memo: memo}
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (id, ledger_id, period_month, memo) VALUES ($1,$2,$3,$4)
ON CONFLICT (ledger_id, period_month) DO NOTHING RETURNING created_at`, entry.ID, ledgerID, month, memo).Scan(&entry.CreatedAt)
	switch {
	case err == nil:
		return entry, nil
	case db.IsUniqueViolation(err):
		return JournalEntry{}, fmt.Errorf("%w: %v", ErrConflict, err)
	case !errors.Is(err, pgx.ErrNoRows):
		return JournalEntry{}, fmt.Errorf("accruals: insert entry: %w", err)
	}
	err = r.tx.QueryRow(ctx, `SELECT id, memo, created_at FROM journal_entries WHERE ledger_id=$1 AND period_month=$2`, ledgerID, month).
		Scan(&entry.ID, &entry.Memo, &entry.CreatedAt)
	if err != nil {
		return JournalEntry{}, fmt.Errorf("accruals: select entry: %w", err)
	}
	return entry, nil
}

func (r *txRepository) UpsertLine(ctx context.Context, line JournalLine) (UpsertOutcome, error) {
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	var inserted bool
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (id, journal_id, booking_record_id, account, amount_cents) VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (booking_record_id, account, journal_id) DO UPDATE SET amount_cents = EXCLUDED.amount_cents, updated_at = NOW()
RETURNING (xmax = 0)`, line.ID, line.JournalID, line.BookingRecordID, string(line.Account), line.AmountCents).Scan(&inserted)
	if err != nil {
		return 0, fmt.Errorf("accruals: upsert line: %w", err)
	}
	if inserted {
		return LineCreated, nil
	}
	return LineUpdated, nil
}

func (r *txRepository) ZeroExistingLine(ctx context.Context, ledgerID uuid.UUID, month time.Time, recordID uuid.UUID, account Account) (uuid.UUID, bool, error) {
	var journalID uuid.UUID
	err := r.tx.QueryRow(ctx, `UPDATE journal_lines jl SET amount_cents = 0, updated_at = NOW()
FROM journal_entries je
WHERE jl.journal_id = je.id AND je.ledger_id = $1 AND je.period_month = $2 AND jl.booking_record_id = $3 AND jl.account = $4
RETURNING jl.journal_id`, ledgerID, month, recordID, string(account)).Scan(&journalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("accruals: zero line: %w", err)
	}
	return journalID, true, nil
}

func (r *txRepository) DeleteStaleLines(ctx context.Context, recordID uuid.UUID, account Account, keepJournals []uuid.UUID) (int, error) {
	keep := make([]string, 0, len(keepJournals))
	for _, id := range keepJournals {
		keep = append(keep, id.String())
	}
	cmd, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE booking_record_id = $1 AND account = $2 AND NOT (journal_id = ANY($3::uuid[]))`,
		recordID, string(account), keep)
	if err != nil {
		return 0, fmt.Errorf("accruals: delete stale lines: %w", err)
	}
	return int(cmd.RowsAffected()), nil
}

func (r *txRepository) DeleteLines(ctx context.Context, recordID uuid.UUID) (int, error) {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE booking_record_id = $1`, recordID)
	if err != nil {
		return 0, fmt.Errorf("accruals: delete lines: %w", err)
	}
	return int(cmd.RowsAffected()), nil
}

func (r *txRepository) SetTZSnapshot(ctx context.Context, recordID uuid.UUID, tz string) error {
	if _, err := r.tx.Exec(ctx, `UPDATE booking_records SET tz_snapshot = $2 WHERE id = $1 AND tz_snapshot IS NULL`, recordID, tz); err != nil {
		return fmt.Errorf("accruals: set tz snapshot: %w", err)
	}
	return nil
}

// RecordIDsForRange lists records of a ledger whose range overlaps the
// months from..to inclusive.
func (r *Repository) RecordIDsForRange(ctx context.Context, ledgerID uuid.UUID, from, to time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT br.id
FROM booking_records br
JOIN bookings b ON b.id = br.booking_id
JOIN rooms r ON r.id = b.room_id
JOIN properties p ON p.id = r.property_id
WHERE p.ledger_id = $1 AND br.range_start < $3 AND COALESCE(br.range_end, br.range_start) >= $2
ORDER BY br.created_at, br.id`, ledgerID, from, to.AddDate(0, 1, 0))
	if err != nil {
		return nil, fmt.Errorf("accruals: records for range: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("accruals: scan record id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MonthlySummary aggregates posted lines by ledger, month and account.
func (r *Repository) MonthlySummary(ctx context.Context, filter SummaryFilter) ([]SummaryRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT je.ledger_id, l.name, je.period_month, jl.account, SUM(jl.amount_cents)::bigint, COUNT(*)
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.journal_id
JOIN ledgers l ON l.id = je.ledger_id
WHERE ($1::uuid IS NULL OR je.ledger_id = $1)
  AND ($2::date IS NULL OR je.period_month >= $2)
  AND ($3::date IS NULL OR je.period_month <= $3)
  AND ($4::text IS NULL OR jl.account = $4)
GROUP BY je.ledger_id, l.name, je.period_month, jl.account
ORDER BY l.name, je.period_month, jl.account`, filter.LedgerID, nullMonth(filter.From), nullMonth(filter.To), nullAccount(filter.Account))
	if err != nil {
		return nil, fmt.Errorf("accruals: monthly summary: %w", err)
	}
	defer rows.Close()
	var out []SummaryRow
	for rows.Next() {
		var (
			row     SummaryRow
			account string
		)
		if err := rows.Scan(&row.LedgerID, &row.LedgerName, &row.Month, &account, &row.AmountCents, &row.Lines); err != nil {
			return nil, fmt.Errorf("accruals: scan summary: %w", err)
		}
		row.Account = Account(account)
		out = append(out, row)
	}
	return out, rows.Err()
}

func nullAccount(a Account) *string {
	if a == "" {
		return nil
	}
	v := string(a)
	return &v
}

// ListSources reads every record with an intact ledger chain.
func (r *Repository) ListSources(ctx context.Context, ledgerID *uuid.UUID) ([]Source, error) {
	rows, err := r.pool.Query(ctx, selectSource+` WHERE l.id IS NOT NULL AND ($1::uuid IS NULL OR l.id = $1) ORDER BY br.created_at, br.id`, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("accruals: list sources: %w", err)
	}
	defer rows.Close()
	var out []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("accruals: scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// PostedTotals sums posted lines per record and account.
func (r *Repository) PostedTotals(ctx context.Context, ledgerID *uuid.UUID) (map[uuid.UUID]map[Account]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT jl.booking_record_id, jl.account, SUM(jl.amount_cents)::bigint
FROM journal_lines jl
JOIN journal_entries je ON je.id = jl.journal_id
WHERE ($1::uuid IS NULL OR je.ledger_id = $1)
GROUP BY jl.booking_record_id, jl.account`, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("accruals: posted totals: %w", err)
	}
	defer rows.Close()
	out := make(map[uuid.UUID]map[Account]int64)
	for rows.Next() {
		var (
			recordID uuid.UUID
			account  string
			sum      int64
		)
		if err := rows.Scan(&recordID, &account, &sum); err != nil {
			return nil, fmt.Errorf("accruals: scan posted total: %w", err)
		}
		if out[recordID] == nil {
			out[recordID] = make(map[Account]int64)
		}
		out[recordID][Account(account)] = sum
	}
	return out, rows.Err()
}

func scanSource(row pgx.Row) (Source, error) {
	var (
		src      Source
		end      *time.Time
		ledgerID *uuid.UUID
	)
	if err := row.Scan(&src.RecordID, &src.BookingID, &src.RangeStart, &end, &src.GuestDeltaCents, &src.PayoutDeltaCents,
		&src.TZSnapshot, &ledgerID, &src.PropertyTimezone); err != nil {
		return Source{}, err
	}
	if ledgerID == nil {
		return Source{}, ErrLedgerChain
	}
	src.RangeEnd = end
	src.LedgerID = *ledgerID
	return src, nil
}

func nullMonth(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
