package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// Factory builds dependencies on first use so --help and flag errors never
// dial the database.
type Factory struct {
	Accruals func(ctx context.Context) (*AccrualCLI, error)
	Redis    func(ctx context.Context) (redis.UniversalClient, error)
	Jobs     func() (*JobsCLI, error)
}

type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func codeErr(code int) error {
	if code == ExitOK {
		return nil
	}
	return exitCode(code)
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, root *cobra.Command) int {
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	_, _ = fmt.Fprintln(root.ErrOrStderr(), err)
	return ExitError
}

// NewRootCommand assembles the accrualctl command tree.
func NewRootCommand(f Factory, stdout, stderr io.Writer) *cobra.Command {
	var jsonOutput bool
	root := &cobra.Command{
		Use:           "accrualctl",
		Short:         "Operate accrual posting for booking records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")

	output := func() Output {
		return Output{JSONOutput: jsonOutput, Stdout: stdout, Stderr: stderr}
	}
	withCLI := func(run func(ctx context.Context, c *AccrualCLI) int) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if f.Accruals == nil {
				return errNotConfigured
			}
			c, err := f.Accruals(cmd.Context())
			if err != nil {
				return err
			}
			return codeErr(run(cmd.Context(), c))
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "post RECORD_ID...",
		Short: "Post accruals for one or more booking records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(func(ctx context.Context, c *AccrualCLI) int {
				return c.PostCommand(ctx, PostOptions{RecordIDs: args, Output: output()})
			})(cmd, args)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "reconstruct BOOKING_ID",
		Short: "Replay a booking's records and store the snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCLI(func(ctx context.Context, c *AccrualCLI) int {
				return c.ReconstructCommand(ctx, ReconstructOptions{BookingID: args[0], Output: output()})
			})(cmd, args)
		},
	})

	var runOpts RunOptions
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Re-post every record of a ledger overlapping a month window",
		Args:  cobra.NoArgs,
		RunE: withCLI(func(ctx context.Context, c *AccrualCLI) int {
			runOpts.Output = output()
			return c.RunCommand(ctx, runOpts)
		}),
	}
	runCmd.Flags().StringVar(&runOpts.LedgerID, "ledger", "", "ledger id")
	runCmd.Flags().StringVar(&runOpts.From, "from", "", "first month, YYYY-MM")
	runCmd.Flags().StringVar(&runOpts.To, "to", "", "last month, YYYY-MM")
	runCmd.Flags().BoolVar(&runOpts.DryRun, "dry-run", false, "list the records without posting")
	_ = runCmd.MarkFlagRequired("ledger")
	_ = runCmd.MarkFlagRequired("from")
	_ = runCmd.MarkFlagRequired("to")
	root.AddCommand(runCmd)

	var verifyOpts VerifyOptions
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare posted lines with record deltas",
		Args:  cobra.NoArgs,
		RunE: withCLI(func(ctx context.Context, c *AccrualCLI) int {
			verifyOpts.Output = output()
			return c.VerifyCommand(ctx, verifyOpts)
		}),
	}
	verifyCmd.Flags().StringVar(&verifyOpts.LedgerID, "ledger", "", "limit to one ledger")
	root.AddCommand(verifyCmd)

	var summaryOpts SummaryOptions
	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Show posted totals per ledger, month and account",
		Args:  cobra.NoArgs,
		RunE: withCLI(func(ctx context.Context, c *AccrualCLI) int {
			summaryOpts.Output = output()
			return c.SummaryCommand(ctx, summaryOpts)
		}),
	}
	summaryCmd.Flags().StringVar(&summaryOpts.LedgerID, "ledger", "", "limit to one ledger")
	summaryCmd.Flags().StringVar(&summaryOpts.Account, "account", "", "limit to one account (RENT, PARKING, CLEANING, BEDDING, OTHERS)")
	summaryCmd.Flags().StringVar(&summaryOpts.From, "from", "", "first month, YYYY-MM")
	summaryCmd.Flags().StringVar(&summaryOpts.To, "to", "", "last month, YYYY-MM")
	root.AddCommand(summaryCmd)

	root.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Stream posting events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.Redis == nil {
				return errNotConfigured
			}
			client, err := f.Redis(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()
			return codeErr(NewAccrualCLI(Deps{}).WatchCommand(cmd.Context(), WatchOptions{Client: client, Output: output()}))
		},
	})

	root.AddCommand(newJobsCommand(f, output))
	return root
}

func newJobsCommand(f Factory, output func() Output) *cobra.Command {
	jobsCmd := &cobra.Command{Use: "jobs", Short: "Queue and inspect background jobs"}
	open := func() (*JobsCLI, error) {
		if f.Jobs == nil {
			return nil, errNotConfigured
		}
		return f.Jobs()
	}

	var params TriggerParams
	trigger := &cobra.Command{
		Use:   "trigger TASK",
		Short: "Enqueue accruals:integrity or accruals:post_range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer c.Close()
			out := output()
			out.normalize()
			info, err := c.Trigger(cmd.Context(), args[0], params)
			if err != nil {
				return codeErr(out.fail("jobs trigger", err))
			}
			if out.JSONOutput {
				return codeErr(out.encode("jobs trigger", map[string]string{"id": info.ID, "queue": info.Queue, "type": info.Type}))
			}
			_, _ = fmt.Fprintf(out.Stdout, "queued %s as %s on %s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	trigger.Flags().StringVar(&params.LedgerID, "ledger", "", "ledger id")
	trigger.Flags().StringVar(&params.From, "from", "", "first month, YYYY-MM")
	trigger.Flags().StringVar(&params.To, "to", "", "last month, YYYY-MM")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer c.Close()
			out := output()
			out.normalize()
			s, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return codeErr(out.fail("jobs stats", err))
			}
			if out.JSONOutput {
				return codeErr(out.encode("jobs stats", s))
			}
			_, _ = fmt.Fprintf(out.Stdout, "%s: pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
			return nil
		},
	}

	jobsCmd.AddCommand(trigger, stats)
	return jobsCmd
}
