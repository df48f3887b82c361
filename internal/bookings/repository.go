package bookings

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
	GetBookingForUpdate(ctx context.Context, id uuid.UUID) (Booking, error)
	ListRecords(ctx context.Context, bookingID uuid.UUID) ([]Record, error)
	UpdateSnapshot(ctx context.Context, bookingID uuid.UUID, snap Snapshot) error
	InsertRecord(ctx context.Context, in RecordInput) (Record, error)
	GetRecordForUpdate(ctx context.Context, id uuid.UUID) (Record, error)
	UpdateRecord(ctx context.Context, rec Record) error
	DeleteLines(ctx context.Context, recordID uuid.UUID) (int, error)
	DeleteRecord(ctx context.Context, id uuid.UUID) error
}

// Repository persists bookings and their records.
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

// WithTx executes fn within a read-committed transaction. Writers serialize
// on the booking row lock.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("bookings repository not initialised")
	}
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetBooking reads a booking without locking it.
func (r *Repository) GetBooking(ctx context.Context, id uuid.UUID) (Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, selectBooking+` WHERE id=$1`, id))
}

// ListRecords reads a booking's records in replay order.
func (r *Repository) ListRecords(ctx context.Context, bookingID uuid.UUID) ([]Record, error) {
	return queryRecords(ctx, r.pool, bookingID)
}

const selectBooking = `SELECT id, room_id, check_in, check_out, guest_total_cents, payout_cents, status, channel, external_ref, updated_at FROM bookings`

const selectRecord = `SELECT id, booking_id, type, range_start, range_end, guest_delta_cents, payout_delta_cents, memo, COALESCE(tz_snapshot, ''), created_at FROM booking_records`

func (r *txRepository) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (Booking, error) {
	return scanBooking(r.tx.QueryRow(ctx, selectBooking+` WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) ListRecords(ctx context.Context, bookingID uuid.UUID) ([]Record, error) {
	return queryRecords(ctx, r.tx, bookingID)
}

func (r *txRepository) UpdateSnapshot(ctx context.Context, bookingID uuid.UUID, snap Snapshot) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE bookings SET check_in=$2, check_out=$3, guest_total_cents=$4, payout_cents=$5, updated_at=NOW() WHERE id=$1`,
		bookingID, snap.CheckIn, snap.CheckOut, snap.GuestTotalCents, snap.PayoutCents)
	if err != nil {
		return fmt.Errorf("bookings: update snapshot: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func (r *txRepository) InsertRecord(ctx context.Context, in RecordInput) (Record, error) {
	rec := Record{
		ID:               uuid.New(),
		BookingID:        in.BookingID,
		Type:             in.Type,
		RangeStart:       in.RangeStart,
		RangeEnd:         in.RangeEnd,
		GuestDeltaCents:  in.GuestDeltaCents,
		PayoutDeltaCents: in.PayoutDeltaCents,
		Memo:             in.Memo,
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO booking_records (id, booking_id, type, range_start, range_end, guest_delta_cents, payout_delta_cents, memo)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING created_at`,
		rec.ID, rec.BookingID, string(rec.Type), rec.RangeStart, rec.RangeEnd, rec.GuestDeltaCents, rec.PayoutDeltaCents, rec.Memo).
		Scan(&rec.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("bookings: insert record: %w", err)
	}
	return rec, nil
}

func (r *txRepository) GetRecordForUpdate(ctx context.Context, id uuid.UUID) (Record, error) {
	rec, err := scanRecord(r.tx.QueryRow(ctx, selectRecord+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("bookings: get record: %w", err)
	}
	return rec, nil
}

func (r *txRepository) UpdateRecord(ctx context.Context, rec Record) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE booking_records SET type=$2, range_start=$3, range_end=$4, guest_delta_cents=$5, payout_delta_cents=$6, memo=$7 WHERE id=$1`,
		rec.ID, string(rec.Type), rec.RangeStart, rec.RangeEnd, rec.GuestDeltaCents, rec.PayoutDeltaCents, rec.Memo)
	if err != nil {
		return fmt.Errorf("bookings: update record: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *txRepository) DeleteLines(ctx context.Context, recordID uuid.UUID) (int, error) {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM journal_lines WHERE booking_record_id=$1`, recordID)
	if err != nil {
		return 0, fmt.Errorf("bookings: delete journal lines: %w", err)
	}
	return int(cmd.RowsAffected()), nil
}

func (r *txRepository) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM booking_records WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("bookings: delete record: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryRecords(ctx context.Context, q querier, bookingID uuid.UUID) ([]Record, error) {
	rows, err := q.Query(ctx, selectRecord+` WHERE booking_id=$1 ORDER BY created_at, id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("bookings: list records: %w", err)
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanBooking(row pgx.Row) (Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.RoomID, &b.CheckIn, &b.CheckOut, &b.GuestTotalCents, &b.PayoutCents, &b.Status, &b.Channel, &b.ExternalRef, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, ErrBookingNotFound
		}
		return Booking{}, fmt.Errorf("bookings: get booking: %w", err)
	}
	return b, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec Record
		typ string
		end *time.Time
	)
	if err := row.Scan(&rec.ID, &rec.BookingID, &typ, &rec.RangeStart, &end, &rec.GuestDeltaCents, &rec.PayoutDeltaCents, &rec.Memo, &rec.TZSnapshot, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	rec.Type = RecordType(typ)
	rec.RangeEnd = end
	return rec, nil
}
