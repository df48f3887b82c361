package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stayledger/internal/accruals"
)

// WatchOptions defines flags for the watch command.
type WatchOptions struct {
	Client redis.UniversalClient
	Output
}

// WatchCommand prints posting events until ctx is cancelled.
func (c *AccrualCLI) WatchCommand(ctx context.Context, opts WatchOptions) int {
	opts.normalize()
	if opts.Client == nil {
		return opts.fail("watch", errNotConfigured)
	}
	enc := json.NewEncoder(opts.Stdout)
	err := accruals.Subscribe(ctx, opts.Client, func(event accruals.PostedEvent) {
		if opts.JSONOutput {
			_ = enc.Encode(event)
			return
		}
		_, _ = fmt.Fprintf(opts.Stdout, "ledger %s record %s posted %s\n", event.LedgerID, event.RecordID, strings.Join(event.Months, ","))
	})
	if err != nil {
		return opts.fail("watch", err)
	}
	return ExitOK
}
