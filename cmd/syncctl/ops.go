package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/piratar/members-sync/internal/cron"
	"github.com/piratar/members-sync/internal/reconcile"
)

var sweepTargets = map[string]string{
	"queue": cron.SyncedQueueRetentionJobName,
	"audit": cron.SyncAuditRetentionJobName,
}

func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Push pending entries to the replica",
		Long: `Run the outbound reconciler in the foreground.

With --once a single batch is processed. Without it the queue is drained
until a batch claims nothing.

With --full every member in the primary store is written to the replica
instead, stamped so queued changes still win. Use it to seed a new replica
or repair one that drifted. The queue is not touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			once, _ := cmd.Flags().GetBool("once")
			full, _ := cmd.Flags().GetBool("full")
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				store, err := e.Replica(ctx)
				if err != nil {
					return err
				}
				if full {
					backfill, err := e.domain.Backfill(store)
					if err != nil {
						return err
					}
					report, err := backfill.Run(ctx)
					if printErr := printBackfill(cmd, report); printErr != nil {
						return printErr
					}
					return err
				}
				svc, err := e.domain.Reconciler(store, nil)
				if err != nil {
					return err
				}
				var summary reconcile.Summary
				if once {
					summary, err = svc.RunOnce(ctx)
				} else {
					summary, err = svc.Drain(ctx)
				}
				if printErr := printSummary(cmd, summary); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
	cmd.Flags().Bool("once", false, "process a single batch")
	cmd.Flags().Bool("full", false, "write every member to the replica")
	cmd.MarkFlagsMutuallyExclusive("once", "full")
	return cmd
}

func printSummary(cmd *cobra.Command, summary reconcile.Summary) error {
	if wantJSON(cmd) {
		return printJSON(cmd.OutOrStdout(), summary)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "processed: %d\nsynced: %d\nsuperseded: %d\nfailed: %d\nlost claims: %d\n",
		summary.Processed, summary.Synced, summary.Superseded, summary.Failed, summary.Lost)
	for _, f := range summary.Failures {
		fmt.Fprintf(w, "  entry %d (%s %s): %s\n", f.ID, f.Action, f.RecordKey, f.Error)
	}
	return nil
}

func printBackfill(cmd *cobra.Command, report reconcile.BackfillReport) error {
	if wantJSON(cmd) {
		return printJSON(cmd.OutOrStdout(), report)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "total members: %d\nsynced: %d\nskipped: %d\nfailed: %d\npages: %d\n",
		report.Members, report.Upserted, report.Skipped, report.Failed, report.Pages)
	for _, f := range report.Failures {
		fmt.Fprintf(w, "  member %s: %s\n", f.RecordKey, f.Error)
	}
	return nil
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep [queue|audit]...",
		Short:     "Run retention sweeps now under the cron lock",
		Long:      "Prune synced queue entries past retention (queue) and old sync audit rows (audit). With no argument both run.",
		ValidArgs: []string{"queue", "audit"},
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := sweepJobNames(args)
			if err != nil {
				return err
			}
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				redisClient, err := e.Redis(ctx)
				if err != nil {
					return err
				}
				svc, err := e.domain.CronService(redisClient)
				if err != nil {
					return err
				}
				report, err := svc.RunNow(ctx, names...)
				out := cmd.OutOrStdout()
				for _, res := range report.Results {
					status := "ok"
					if res.Err != nil {
						status = "failed: " + res.Err.Error()
					}
					fmt.Fprintf(out, "%-28s %8s  %s\n", res.Job, res.Duration.Round(time.Millisecond), status)
				}
				return err
			})
		},
	}
}

func sweepJobNames(args []string) ([]string, error) {
	names := make([]string, 0, len(args))
	for _, arg := range args {
		name, ok := sweepTargets[arg]
		if !ok {
			return nil, fmt.Errorf("unknown sweep target %q", arg)
		}
		names = append(names, name)
	}
	return names, nil
}
