package bookings

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stayledger/internal/shared"
)

// RecordType enumerates booking change events.
type RecordType string

const (
	RecordNew         RecordType = "NEW"
	RecordUpdate      RecordType = "UPDATE"
	RecordExtend      RecordType = "EXTEND"
	RecordShorten     RecordType = "SHORTEN"
	RecordCancel      RecordType = "CANCEL"
	RecordTransferIn  RecordType = "TRANSFER_IN"
	RecordTransferOut RecordType = "TRANSFER_OUT"
)

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	switch t {
	case RecordNew, RecordUpdate, RecordExtend, RecordShorten, RecordCancel, RecordTransferIn, RecordTransferOut:
		return true
	}
	return false
}

// Booking is the derived projection of a stay. Only reconstruction writes
// the date and total fields.
type Booking struct {
	ID              uuid.UUID
	RoomID          uuid.UUID
	CheckIn         time.Time
	CheckOut        time.Time
	GuestTotalCents int64
	PayoutCents     int64
	Status          string
	Channel         string
	ExternalRef     string
	UpdatedAt       time.Time
}

// Record is an immutable-by-convention change event against a booking.
type Record struct {
	ID               uuid.UUID
	BookingID        uuid.UUID
	Type             RecordType
	RangeStart       time.Time
	RangeEnd         *time.Time
	GuestDeltaCents  int64
	PayoutDeltaCents int64
	Memo             string
	TZSnapshot       string
	CreatedAt        time.Time
}

// Snapshot is the result of replaying a booking's records.
type Snapshot struct {
	CheckIn         time.Time
	CheckOut        time.Time
	GuestTotalCents int64
	PayoutCents     int64
}

// InconsistencyKind classifies a replay warning.
type InconsistencyKind string

const (
	InconsistencyFirstNotNew InconsistencyKind = "first_not_new"
	InconsistencyUnknownType InconsistencyKind = "unknown_type"
)

// Inconsistency describes a record that replay handled on a best-effort basis.
type Inconsistency struct {
	Kind     InconsistencyKind
	RecordID uuid.UUID
	Type     RecordType
}

// RecordInput carries the fields of a new record.
type RecordInput struct {
	BookingID        uuid.UUID
	Type             RecordType
	RangeStart       time.Time
	RangeEnd         *time.Time
	GuestDeltaCents  int64
	PayoutDeltaCents int64
	Memo             string
	Actor            string
}

// RecordPatch lists the mutable fields of a record; nil means unchanged.
type RecordPatch struct {
	Type             *RecordType
	RangeStart       *time.Time
	RangeEnd         *time.Time
	ClearRangeEnd    bool
	GuestDeltaCents  *int64
	PayoutDeltaCents *int64
	Memo             *string
	Actor            string
}

// BookingDetail is a booking with its records in replay order.
type BookingDetail struct {
	Booking Booking
	Records []Record
}

// ChangeResult reports what a record lifecycle operation did.
type ChangeResult struct {
	Record   Record
	Snapshot *Snapshot
	Lines    int
	Queued   bool
}

var (
	// ErrBookingNotFound indicates the booking row is missing.
	ErrBookingNotFound = shared.NotFound("bookings: booking not found")
	// ErrRecordNotFound indicates the booking record row is missing.
	ErrRecordNotFound = shared.NotFound("bookings: record not found")
	// ErrInvalidRecordType rejects writes with an unknown type.
	ErrInvalidRecordType = shared.Invalid("bookings: invalid record type")
	// ErrInvalidRange rejects a range end before its start.
	ErrInvalidRange = shared.Invalid("bookings: range end before range start")
)

// Validate checks a new record before it is stored.
func (in RecordInput) Validate() error {
	if in.BookingID == uuid.Nil {
		return shared.Invalid("bookings: booking id required")
	}
	if !in.Type.Valid() {
		return ErrInvalidRecordType
	}
	if in.RangeStart.IsZero() {
		return shared.Invalid("bookings: range start required")
	}
	if in.RangeEnd != nil && in.RangeEnd.Before(in.RangeStart) {
		return ErrInvalidRange
	}
	return nil
}

// Apply returns r with the patch applied and validated.
func (p RecordPatch) Apply(r Record) (Record, error) {
	if p.Type != nil {
		if !p.Type.Valid() {
			return Record{}, ErrInvalidRecordType
		}
		r.Type = *p.Type
	}
	if p.RangeStart != nil {
		r.RangeStart = *p.RangeStart
	}
	if p.ClearRangeEnd {
		r.RangeEnd = nil
	} else if p.RangeEnd != nil {
		end := *p.RangeEnd
		r.RangeEnd = &end
	}
	if p.GuestDeltaCents != nil {
		r.GuestDeltaCents = *p.GuestDeltaCents
	}
	if p.PayoutDeltaCents != nil {
		r.PayoutDeltaCents = *p.PayoutDeltaCents
	}
	if p.Memo != nil {
		r.Memo = *p.Memo
	}
	if r.RangeEnd != nil && r.RangeEnd.Before(r.RangeStart) {
		return Record{}, ErrInvalidRange
	}
	return r, nil
}

// Empty reports whether the patch changes nothing.
func (p RecordPatch) Empty() bool {
	return p.Type == nil && p.RangeStart == nil && p.RangeEnd == nil && !p.ClearRangeEnd &&
		p.GuestDeltaCents == nil && p.PayoutDeltaCents == nil && p.Memo == nil
}
