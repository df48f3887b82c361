package accruals

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stayledger/internal/shared"
)

// Account enumerates revenue categories a line can post to.
type Account string

const (
	AccountRent     Account = "RENT"
	AccountParking  Account = "PARKING"
	AccountCleaning Account = "CLEANING"
	AccountBedding  Account = "BEDDING"
	AccountOthers   Account = "OTHERS"
)

// Valid reports whether a is a known account.
func (a Account) Valid() bool {
	switch a {
	case AccountRent, AccountParking, AccountCleaning, AccountBedding, AccountOthers:
		return true
	}
	return false
}

// Source is a booking record together with the ledger it posts into.
type Source struct {
	RecordID         uuid.UUID
	BookingID        uuid.UUID
	LedgerID         uuid.UUID
	PropertyTimezone string
	TZSnapshot       string
	RangeStart       time.Time
	RangeEnd         *time.Time
	GuestDeltaCents  int64
	PayoutDeltaCents int64
}

// Timezone returns the zone name to bucket with; blank defers to the default.
func (s Source) Timezone() string {
	if s.TZSnapshot != "" {
		return s.TZSnapshot
	}
	return s.PropertyTimezone
}

// JournalEntry groups a ledger's lines for one month.
type JournalEntry struct {
	ID          uuid.UUID
	LedgerID    uuid.UUID
	PeriodMonth time.Time
	Memo        string
	CreatedAt   time.Time
}

// JournalLine is the amount a record contributes to an account in one entry.
type JournalLine struct {
	ID              uuid.UUID
	JournalID       uuid.UUID
	BookingRecordID uuid.UUID
	Account         Account
	AmountCents     int64
}

// UpsertOutcome tells whether UpsertLine inserted or overwrote.
type UpsertOutcome int

const (
	LineCreated UpsertOutcome = iota + 1
	LineUpdated
)

// PostingRule maps a record to the delta it posts on one account.
type PostingRule struct {
	Account Account
	Amount  func(Source) int64
}

// DefaultRules posts the payout delta to RENT.
var DefaultRules = []PostingRule{
	{Account: AccountRent, Amount: func(s Source) int64 { return s.PayoutDeltaCents }},
}

// PostResult summarises one PostRecord call.
type PostResult struct {
	RecordID            uuid.UUID
	LedgerID            uuid.UUID
	Timezone            string
	PostedLines         int
	MonthsTouched       int
	TotalAllocatedCents int64
	Created             int
	Updated             int
	Removed             int
	Months              []string
}

// PostedEvent is published after a posting commits.
type PostedEvent struct {
	LedgerID uuid.UUID `json:"ledger_id"`
	RecordID uuid.UUID `json:"record_id"`
	Months   []string  `json:"months"`
}

// SummaryFilter narrows MonthlySummary. Zero months are unbounded.
type SummaryFilter struct {
	LedgerID *uuid.UUID
	Account  Account
	From     time.Time
	To       time.Time
}

// SummaryRow is the posted total of one ledger, month and account.
type SummaryRow struct {
	LedgerID    uuid.UUID
	LedgerName  string
	Month       time.Time
	Account     Account
	AmountCents int64
	Lines       int
}

// Mismatch is a record whose posted lines differ from its delta.
type Mismatch struct {
	RecordID  uuid.UUID
	BookingID uuid.UUID
	LedgerID  uuid.UUID
	Account   Account
	Expected  int64
	Posted    int64
}

var (
	// ErrRecordNotFound indicates the booking record row is missing.
	ErrRecordNotFound = shared.NotFound("accruals: record not found")
	// ErrLedgerChain indicates the room, property or ledger link is broken.
	ErrLedgerChain = shared.NotFound("accruals: record has no ledger")
	// ErrInvalidTimezone indicates the record's timezone cannot be loaded.
	ErrInvalidTimezone = errors.New("accruals: invalid timezone")
	// ErrConflict indicates a unique violation that aborted the transaction;
	// the posting is retried from the start.
	ErrConflict = errors.New("accruals: concurrent write conflict")
	// ErrInvalidMonth rejects a malformed YYYY-MM value.
	ErrInvalidMonth = shared.Invalid("accruals: month must be YYYY-MM")
	// ErrInvalidAccount rejects an account outside the chart.
	ErrInvalidAccount = shared.Invalid("accruals: unknown account")
)

// ParseMonth reads a YYYY-MM value as a canonical month key.
func ParseMonth(value string) (time.Time, error) {
	t, err := time.Parse("2006-01", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidMonth, value)
	}
	return t, nil
}

func entryMemo(month time.Time) string {
	return "Auto posting " + month.Format("2006-01")
}
