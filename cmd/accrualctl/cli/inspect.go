package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stayledger/internal/accruals"
	"github.com/odyssey-erp/stayledger/internal/allocation"
)

// ReconstructOptions defines flags for the reconstruct command.
type ReconstructOptions struct {
	BookingID string
	Output
}

// SnapshotSummary is the JSON output of the reconstruct command.
type SnapshotSummary struct {
	BookingID       string `json:"booking_id"`
	Empty           bool   `json:"empty"`
	CheckIn         string `json:"check_in,omitempty"`
	CheckOut        string `json:"check_out,omitempty"`
	GuestTotalCents int64  `json:"guest_total_cents"`
	PayoutCents     int64  `json:"payout_cents"`
}

// ReconstructCommand replays a booking's records and stores the snapshot.
func (c *AccrualCLI) ReconstructCommand(ctx context.Context, opts ReconstructOptions) int {
	opts.normalize()
	if c.deps.Bookings == nil {
		return opts.fail("reconstruct", errNotConfigured)
	}
	id, err := uuid.Parse(opts.BookingID)
	if err != nil {
		return opts.fail("reconstruct", fmt.Errorf("invalid booking id %q", opts.BookingID))
	}
	snap, err := c.deps.Bookings.ReconstructBooking(ctx, id)
	if err != nil {
		return opts.fail("reconstruct", err)
	}
	summary := SnapshotSummary{BookingID: id.String(), Empty: snap == nil}
	if snap != nil {
		summary.CheckIn = snap.CheckIn.Format("2006-01-02")
		summary.CheckOut = snap.CheckOut.Format("2006-01-02")
		summary.GuestTotalCents = snap.GuestTotalCents
		summary.PayoutCents = snap.PayoutCents
	}
	if opts.JSONOutput {
		return opts.encode("reconstruct", summary)
	}
	if summary.Empty {
		_, _ = fmt.Fprintf(opts.Stdout, "Booking %s has no records; snapshot left unchanged.\n", summary.BookingID)
		return ExitOK
	}
	_, _ = fmt.Fprintf(opts.Stdout, "Booking %s: %s to %s, guest total %s, payout %s\n",
		summary.BookingID, summary.CheckIn, summary.CheckOut,
		allocation.Format(summary.GuestTotalCents), allocation.Format(summary.PayoutCents))
	return ExitOK
}

// VerifyOptions defines flags for the verify command.
type VerifyOptions struct {
	LedgerID string
	Output
}

// VerifySummary is the JSON output of the verify command.
type VerifySummary struct {
	OK         bool           `json:"ok"`
	Mismatches []MismatchLine `json:"mismatches"`
}

// MismatchLine reports one record whose lines disagree with its delta.
type MismatchLine struct {
	RecordID  string `json:"record_id"`
	BookingID string `json:"booking_id"`
	LedgerID  string `json:"ledger_id"`
	Account   string `json:"account"`
	Expected  int64  `json:"expected_cents"`
	Posted    int64  `json:"posted_cents"`
}

// VerifyCommand compares posted lines with record deltas. Mismatches exit
// with ExitFindings.
func (c *AccrualCLI) VerifyCommand(ctx context.Context, opts VerifyOptions) int {
	opts.normalize()
	if c.deps.Verifier == nil {
		return opts.fail("verify", errNotConfigured)
	}
	ledger, err := optionalLedger(opts.LedgerID)
	if err != nil {
		return opts.fail("verify", err)
	}
	mismatches, err := c.deps.Verifier.Verify(ctx, ledger)
	if err != nil {
		return opts.fail("verify", err)
	}
	summary := VerifySummary{OK: len(mismatches) == 0, Mismatches: make([]MismatchLine, 0, len(mismatches))}
	for _, m := range mismatches {
		summary.Mismatches = append(summary.Mismatches, MismatchLine{
			RecordID:  m.RecordID.String(),
			BookingID: m.BookingID.String(),
			LedgerID:  m.LedgerID.String(),
			Account:   string(m.Account),
			Expected:  m.Expected,
			Posted:    m.Posted,
		})
	}
	if opts.JSONOutput {
		if code := opts.encode("verify", summary); code != ExitOK {
			return code
		}
	} else if summary.OK {
		_, _ = fmt.Fprintln(opts.Stdout, "All posted lines match their record deltas.")
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "%d mismatch(es) detected:\n", len(summary.Mismatches))
		for _, m := range summary.Mismatches {
			_, _ = fmt.Fprintf(opts.Stdout, " - record %s %s expected %s posted %s\n",
				m.RecordID, m.Account, allocation.Format(m.Expected), allocation.Format(m.Posted))
		}
	}
	if !summary.OK {
		return ExitFindings
	}
	return ExitOK
}

// SummaryOptions defines flags for the summary command.
type SummaryOptions struct {
	LedgerID string
	Account  string
	From     string
	To       string
	Output
}

// SummaryCommand prints posted totals per ledger, month and account.
func (c *AccrualCLI) SummaryCommand(ctx context.Context, opts SummaryOptions) int {
	opts.normalize()
	if c.deps.Summarizer == nil {
		return opts.fail("summary", errNotConfigured)
	}
	var filter accruals.SummaryFilter
	ledger, err := optionalLedger(opts.LedgerID)
	if err != nil {
		return opts.fail("summary", err)
	}
	filter.LedgerID = ledger
	if opts.Account != "" {
		filter.Account = accruals.Account(strings.ToUpper(opts.Account))
		if !filter.Account.Valid() {
			return opts.fail("summary", fmt.Errorf("%w: %q", accruals.ErrInvalidAccount, opts.Account))
		}
	}
	if opts.From != "" {
		if filter.From, err = accruals.ParseMonth(opts.From); err != nil {
			return opts.fail("summary", err)
		}
	}
	if opts.To != "" {
		if filter.To, err = accruals.ParseMonth(opts.To); err != nil {
			return opts.fail("summary", err)
		}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return opts.fail("summary", errors.New("--to must not be before --from"))
	}
	rows, err := c.deps.Summarizer.MonthlySummary(ctx, filter)
	if err != nil {
		return opts.fail("summary", err)
	}
	if opts.JSONOutput {
		type row struct {
			LedgerID    string `json:"ledger_id"`
			LedgerName  string `json:"ledger_name"`
			Month       string `json:"month"`
			Account     string `json:"account"`
			AmountCents int64  `json:"amount_cents"`
			Amount      string `json:"amount"`
			Lines       int    `json:"lines"`
		}
		out := make([]row, 0, len(rows))
		for _, r := range rows {
			out = append(out, row{
				LedgerID:    r.LedgerID.String(),
				LedgerName:  r.LedgerName,
				Month:       r.Month.Format("2006-01"),
				Account:     string(r.Account),
				AmountCents: r.AmountCents,
				Amount:      allocation.Format(r.AmountCents),
				Lines:       r.Lines,
			})
		}
		return opts.encode("summary", out)
	}
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(opts.Stdout, "No posted lines.")
		return ExitOK
	}
	tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(tw, "LEDGER\tMONTH\tACCOUNT\tAMOUNT\tLINES\t")
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t\n", r.LedgerName, r.Month.Format("2006-01"), r.Account, allocation.Format(r.AmountCents), r.Lines)
	}
	if err := tw.Flush(); err != nil {
		return opts.fail("summary", err)
	}
	return ExitOK
}
