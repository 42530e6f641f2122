package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/equipstat/internal/exitcode"
	"github.com/JonMunkholm/equipstat/internal/store"
)

func newMigrateCommand(opts *globalOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, _, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := store.Migrate(ctx, pool)
			if err != nil {
				slog.Error("migration failed", "error", err)
				return exitWith(exitcode.MigrationError, err)
			}

			fmt.Fprintf(stdout, "applied %d migrations\n", n)
			return nil
		},
	}
}
