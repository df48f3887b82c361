package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/stayledger/internal/accruals"
	"github.com/odyssey-erp/stayledger/internal/allocation"
)

// PostOptions defines flags for the post command.
type PostOptions struct {
	RecordIDs []string
	Output
}

// PostSummary is the JSON output of the post command.
type PostSummary struct {
	Posted []accruals.PostResponse    `json:"posted"`
	Failed []accruals.FailureResponse `json:"failed"`
}

// PostCommand posts each record in order. Every record is attempted; the
// exit code is non-zero when any of them failed.
func (c *AccrualCLI) PostCommand(ctx context.Context, opts PostOptions) int {
	opts.normalize()
	if c.deps.Poster == nil {
		return opts.fail("post", errNotConfigured)
	}
	if len(opts.RecordIDs) == 0 {
		return opts.fail("post", errors.New("at least one record id is required"))
	}
	ids, err := parseIDs(opts.RecordIDs)
	if err != nil {
		return opts.fail("post", err)
	}
	summary := PostSummary{Posted: []accruals.PostResponse{}, Failed: []accruals.FailureResponse{}}
	for _, id := range ids {
		result, err := c.deps.Poster.PostRecord(ctx, id)
		if err != nil {
			summary.Failed = append(summary.Failed, accruals.FailureResponse{RecordID: id.String(), Error: err.Error()})
			continue
		}
		summary.Posted = append(summary.Posted, accruals.ToPostResponse(result))
	}
	if opts.JSONOutput {
		if code := opts.encode("post", summary); code != ExitOK {
			return code
		}
	} else {
		for _, p := range summary.Posted {
			_, _ = fmt.Fprintf(opts.Stdout, "%s posted %d line(s) over %s in %s, total %s (created %d, updated %d, removed %d)\n",
				p.RecordID, p.PostedLines, strings.Join(p.Months, ","), p.Timezone, allocation.Format(p.TotalAllocatedCents), p.Created, p.Updated, p.Removed)
		}
		for _, f := range summary.Failed {
			_, _ = fmt.Fprintf(opts.Stderr, "%s failed: %s\n", f.RecordID, f.Error)
		}
	}
	if len(summary.Failed) > 0 {
		return ExitError
	}
	return ExitOK
}

// RunOptions defines flags for the run command.
type RunOptions struct {
	LedgerID string
	From     string
	To       string
	DryRun   bool
	Output
}

// RunCommand re-posts every record of a ledger overlapping the month window.
func (c *AccrualCLI) RunCommand(ctx context.Context, opts RunOptions) int {
	opts.normalize()
	if c.deps.Selector == nil || c.deps.Batch == nil {
		return opts.fail("run", errNotConfigured)
	}
	ledger, err := optionalLedger(opts.LedgerID)
	if err != nil || ledger == nil {
		return opts.fail("run", errors.New("--ledger is required and must be a uuid"))
	}
	from, err := accruals.ParseMonth(opts.From)
	if err != nil {
		return opts.fail("run", err)
	}
	to, err := accruals.ParseMonth(opts.To)
	if err != nil {
		return opts.fail("run", err)
	}
	ids, err := c.deps.Selector.RecordIDsForRange(ctx, *ledger, from, to)
	if err != nil {
		return opts.fail("run", err)
	}
	if opts.DryRun {
		if opts.JSONOutput {
			out := make([]string, len(ids))
			for i, id := range ids {
				out[i] = id.String()
			}
			return opts.encode("run", map[string]any{"record_ids": out})
		}
		_, _ = fmt.Fprintf(opts.Stdout, "%d record(s) would be posted for %s..%s\n", len(ids), opts.From, opts.To)
		for _, id := range ids {
			_, _ = fmt.Fprintf(opts.Stdout, " - %s\n", id)
		}
		return ExitOK
	}

	report := c.deps.Batch.Run(ctx, ids)
	if opts.JSONOutput {
		if code := opts.encode("run", accruals.ToRunResponse(report)); code != ExitOK {
			return code
		}
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "Posted %d of %d record(s) for %s..%s, %d line(s)\n",
			report.Succeeded, report.Total, opts.From, opts.To, report.Lines)
		for _, f := range report.Failures {
			_, _ = fmt.Fprintf(opts.Stdout, " - %s: %v\n", f.RecordID, f.Err)
		}
	}
	if report.Failed > 0 {
		return ExitFindings
	}
	return ExitOK
}
