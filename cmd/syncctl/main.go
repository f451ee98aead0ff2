package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set via ldflags during build.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "syncctl",
		Short: "Operate the member registry sync queue",
		Long: `syncctl inspects and repairs the member sync queue, runs the
reconciler and retention sweeps by hand, manages sync API clients and
reads documents back from the replica.

It reads the same MEMBERSYNC_* environment as the services.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("json", false, "print machine-readable JSON")

	root.AddCommand(
		newStatusCmd(),
		newEntriesCmd(),
		newReconcileCmd(),
		newSweepCmd(),
		newClientsCmd(),
		newReplicaCmd(),
	)
	return root
}
