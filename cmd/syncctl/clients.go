package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/piratar/members-sync/internal/syncclients"
	"github.com/piratar/members-sync/pkg/enums"
)

func newClientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "Manage sync API clients",
	}
	cmd.AddCommand(newClientsListCmd(), newClientsCreateCmd(), newClientsRotateCmd())
	return cmd
}

func withClients(cmd *cobra.Command, fn func(ctx context.Context, svc syncclients.Service) error) error {
	return withEnv(cmd, func(ctx context.Context, e *env) error {
		redisClient, err := e.Redis(ctx)
		if err != nil {
			return err
		}
		svc, _, err := e.domain.Clients(redisClient)
		if err != nil {
			return err
		}
		return fn(ctx, svc)
	})
}

func newClientsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClients(cmd, func(ctx context.Context, svc syncclients.Service) error {
				items, err := svc.List(ctx)
				if err != nil {
					return err
				}
				if wantJSON(cmd) {
					return printJSON(cmd.OutOrStdout(), items)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tROLE\tLAST USED")
				for _, c := range items {
					lastUsed := "never"
					if c.LastUsedAt != nil {
						lastUsed = c.LastUsedAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Role, lastUsed)
				}
				return tw.Flush()
			})
		},
	}
}

func newClientsCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Register a client and print its secret once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roleFlag, _ := cmd.Flags().GetString("role")
			role, err := enums.ParseClientRole(roleFlag)
			if err != nil {
				return err
			}
			return withClients(cmd, func(ctx context.Context, svc syncclients.Service) error {
				creds, err := svc.Create(ctx, syncclients.CreateRequest{Name: args[0], Role: role})
				if err != nil {
					return err
				}
				return printCredentials(cmd, creds)
			})
		},
	}
	cmd.Flags().String("role", string(enums.ClientRoleSync), "client role (sync or admin)")
	return cmd
}

func newClientsRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate CLIENT_ID",
		Short: "Replace a client's secret and print the new one",
		Long:  "Replace a client's secret. Tokens issued before the rotation stay valid until they expire or are revoked.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid client id: %w", err)
			}
			return withClients(cmd, func(ctx context.Context, svc syncclients.Service) error {
				creds, err := svc.RotateSecret(ctx, id)
				if err != nil {
					return err
				}
				return printCredentials(cmd, creds)
			})
		},
	}
}

func printCredentials(cmd *cobra.Command, creds *syncclients.Credentials) error {
	if wantJSON(cmd) {
		return printJSON(cmd.OutOrStdout(), creds)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "client_id:     %s\nname:          %s\nrole:          %s\nclient_secret: %s\n",
		creds.ClientID, creds.Name, creds.Role, creds.Secret)
	fmt.Fprintln(w, "\nstore the secret now; it cannot be shown again")
	return nil
}
