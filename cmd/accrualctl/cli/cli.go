package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stayledger/internal/accruals"
	"github.com/odyssey-erp/stayledger/internal/bookings"
)

// Exit codes shared by every command.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitFindings = 10
)

// Poster posts a single record.
type Poster interface {
	PostRecord(ctx context.Context, recordID uuid.UUID) (accruals.PostResult, error)
}

// Reconstructor rebuilds a booking snapshot.
type Reconstructor interface {
	ReconstructBooking(ctx context.Context, bookingID uuid.UUID) (*bookings.Snapshot, error)
}

// RangeSelector finds records overlapping a month window.
type RangeSelector interface {
	RecordIDsForRange(ctx context.Context, ledgerID uuid.UUID, from, to time.Time) ([]uuid.UUID, error)
}

// BatchRunner posts many records.
type BatchRunner interface {
	Run(ctx context.Context, ids []uuid.UUID) accruals.BatchReport
}

// Verifier lists records whose lines disagree with their delta.
type Verifier interface {
	Verify(ctx context.Context, ledgerID *uuid.UUID) ([]accruals.Mismatch, error)
}

// Summarizer reads posted totals.
type Summarizer interface {
	MonthlySummary(ctx context.Context, filter accruals.SummaryFilter) ([]accruals.SummaryRow, error)
}

// Deps are the services commands run against. Unset fields disable the
// commands that need them.
type Deps struct {
	Poster     Poster
	Bookings   Reconstructor
	Selector   RangeSelector
	Batch      BatchRunner
	Verifier   Verifier
	Summarizer Summarizer
}

// AccrualCLI implements the operator commands.
type AccrualCLI struct {
	deps Deps
}

// NewAccrualCLI constructs the command set.
func NewAccrualCLI(deps Deps) *AccrualCLI {
	return &AccrualCLI{deps: deps}
}

// Output controls where and how a command prints.
type Output struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o *Output) normalize() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

func (o Output) fail(cmd string, err error) int {
	_, _ = fmt.Fprintf(o.Stderr, "%s: %v\n", cmd, err)
	return ExitError
}

func (o Output) encode(cmd string, v any) int {
	enc := json.NewEncoder(o.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return o.fail(cmd, fmt.Errorf("encode json: %w", err))
	}
	return ExitOK
}

var errNotConfigured = errors.New("command not configured")

func parseIDs(values []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", v)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func optionalLedger(value string) (*uuid.UUID, error) {
	if value == "" {
		return nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("invalid ledger id %q", value)
	}
	return &id, nil
}
