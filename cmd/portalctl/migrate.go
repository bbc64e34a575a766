package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"loyaltydesk.org/internal/migrate"
	"loyaltydesk.org/ops/migrations"
)

func newMigrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or list schema migrations",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "read migrations from a directory instead of the embedded set")

	manager := func() (*migrate.Manager, func(), error) {
		st, err := openStore()
		if err != nil {
			return nil, nil, err
		}
		var files fs.FS = migrations.SQL
		if dir != "" {
			files = os.DirFS(dir)
		}
		return migrate.NewManager(st.DB(), files), func() { _ = st.Close() }, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, done, err := manager()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := commandContext(cmd)
			defer cancel()
			applied, err := mgr.Up(ctx)
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, done, err := manager()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := commandContext(cmd)
			defer cancel()
			name, err := mgr.Down(ctx)
			if errors.Is(err, migrate.ErrNothingApplied) {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rolled back", name)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, done, err := manager()
			if err != nil {
				return err
			}
			defer done()
			ctx, cancel := commandContext(cmd)
			defer cancel()
			history, err := mgr.Status(ctx)
			if err != nil {
				return err
			}
			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), history)
			}
			for _, item := range history {
				fmt.Fprintln(cmd.OutOrStdout(), item)
			}
			return nil
		},
	})
	return cmd
}
