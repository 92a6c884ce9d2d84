package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tasker-backend/pkg/app"
	"tasker-backend/pkg/config"
	"tasker-backend/pkg/database"
)

func migrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the documents table and change-notification trigger",
		Long: `Prepare a PostgreSQL database for the postgres document store.

The DSN is taken from --dsn, then POSTGRES_DSN.

Examples:
  tasker migrate
  tasker migrate --dsn postgres://localhost:5432/tasker?sslmode=disable`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if dsn == "" {
				dsn = cfg.PostgresDSN
			}
			if dsn == "" {
				return errors.New("no DSN: pass --dsn or set POSTGRES_DSN")
			}

			ctx := cmd.Context()
			store, err := database.NewPostgresStore(ctx, cfg.DatabaseDriver, dsn)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "documents table ready")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL connection string")
	return cmd
}

func syncSpacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-spaces <uid>",
		Short: "Rebuild a user's space list from the spaces they belong to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				spaces, err := a.Membership.SyncUserSpaces(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]interface{}{"uid": args[0], "spaces": spaces})
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <spaceID>",
		Short: "Recompute a space's member and task counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				space, err := a.Board.Recount(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]interface{}{
					"spaceId":     space.ID,
					"memberCount": space.MemberCount,
					"tasks":       space.Tasks,
				})
			})
		},
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.StoreBackend == "memory" {
		fmt.Fprintln(os.Stderr, "warning: memory store selected, changes will not persist")
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
