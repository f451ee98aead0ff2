package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piratar/members-sync/pkg/kennitala"
	"github.com/piratar/members-sync/pkg/replica"
)

func newReplicaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replica",
		Short: "Read documents from the replica",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get KENNITALA",
		Short: "Print the replica document for a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := kennitala.Parse(args[0])
			if err != nil {
				return err
			}
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				store, err := e.Replica(ctx)
				if err != nil {
					return err
				}
				doc, err := store.Get(ctx, key)
				if errors.Is(err, replica.ErrNotFound) {
					return fmt.Errorf("no replica document for %s", key)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), doc)
			})
		},
	})
	return cmd
}
