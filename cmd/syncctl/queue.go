package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/piratar/members-sync/internal/syncqueue"
	"github.com/piratar/members-sync/pkg/db/models"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue counts and the most recent pending and failed entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			samples, _ := cmd.Flags().GetInt("samples")
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				report, err := e.domain.Queue.Status(ctx, samples)
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return printJSON(cmd.OutOrStdout(), report)
				}
				return printStatus(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().Int("samples", 10, "entries to show per status (1-100)")
	return cmd
}

func printStatus(w io.Writer, report *syncqueue.StatusReport) error {
	oldest := "-"
	if report.OldestPendingAt != nil {
		oldest = report.OldestPendingAt.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(w, "pending: %d\nfailed:  %d\nsynced:  %d\noldest pending: %s\n",
		report.Pending, report.Failed, report.Synced, oldest)

	printSamples := func(title string, samples []syncqueue.EntrySample) {
		if len(samples) == 0 {
			return
		}
		fmt.Fprintf(w, "\n%s\n", title)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tRECORD KEY\tACTION\tRETRIES\tCREATED\tERROR")
		for _, s := range samples {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
				s.ID, s.RecordKey, s.Action, s.RetryCount, s.CreatedAt.UTC().Format(time.RFC3339), deref(s.ErrorMessage))
		}
		_ = tw.Flush()
	}
	printSamples("recent pending", report.RecentPending)
	printSamples("recent failed", report.RecentFailed)
	return nil
}

func newEntriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List and repair sync queue entries",
	}
	cmd.AddCommand(newEntriesListCmd(), newMarkPendingCmd(), newMarkSyncedCmd(), newRetryFailedCmd())
	return cmd
}

func newEntriesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetString("status")
			recordKey, _ := cmd.Flags().GetString("record-key")
			limit, _ := cmd.Flags().GetInt("limit")
			cursor, _ := cmd.Flags().GetString("cursor")
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				result, err := e.domain.Queue.List(ctx, syncqueue.ListRequest{
					Status:    status,
					RecordKey: recordKey,
					Limit:     limit,
					Cursor:    cursor,
				})
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return printJSON(cmd.OutOrStdout(), result)
				}
				return printEntries(cmd.OutOrStdout(), result.Items, result.Cursor)
			})
		},
	}
	cmd.Flags().String("status", "", "filter by status (pending, synced, failed)")
	cmd.Flags().String("record-key", "", "filter by kennitala")
	cmd.Flags().Int("limit", 25, "page size")
	cmd.Flags().String("cursor", "", "cursor from a previous page")
	return cmd
}

func printEntries(w io.Writer, items []models.SyncQueueEntry, cursor string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECORD KEY\tACTION\tSTATUS\tRETRIES\tCREATED\tERROR")
	for _, entry := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			entry.ID, entry.RecordKey, entry.Action, entry.Status, entry.RetryCount,
			entry.CreatedAt.UTC().Format(time.RFC3339), deref(entry.ErrorMessage))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if cursor != "" {
		fmt.Fprintf(w, "\nnext cursor: %s\n", cursor)
	}
	return nil
}

func newMarkPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mark-pending ID...",
		Short: "Return entries to pending so the reconciler picks them up again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			reset, _ := cmd.Flags().GetBool("reset-retries")
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				n, err := e.domain.Queue.MarkPending(ctx, ids, reset)
				if err != nil {
					return err
				}
				return printCount(cmd, "marked_pending", n)
			})
		},
	}
	cmd.Flags().Bool("reset-retries", false, "also reset the retry counter")
	return cmd
}

func newMarkSyncedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-synced ID...",
		Short: "Mark pending entries as synced without touching the replica",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				n, err := e.domain.Queue.MarkSynced(ctx, ids)
				if err != nil {
					return err
				}
				return printCount(cmd, "marked_synced", n)
			})
		},
	}
}

func newRetryFailedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Requeue every failed entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reset, _ := cmd.Flags().GetBool("reset-retries")
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				n, err := e.domain.Queue.RetryAllFailed(ctx, reset)
				if err != nil {
					return err
				}
				return printCount(cmd, "requeued", n)
			})
		},
	}
	cmd.Flags().Bool("reset-retries", false, "also reset the retry counter")
	return cmd
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid entry id %q", part)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one entry id is required")
	}
	return ids, nil
}

func printCount(cmd *cobra.Command, key string, n int64) error {
	if wantJSON(cmd) {
		return printJSON(cmd.OutOrStdout(), map[string]int64{key: n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", strings.ReplaceAll(key, "_", " "), n)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
