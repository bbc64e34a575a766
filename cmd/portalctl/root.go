package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"loyaltydesk.org/internal/config"
	"loyaltydesk.org/internal/obs"
	"loyaltydesk.org/internal/store/pg"
)

var (
	dsn     string
	output  string
	timeout time.Duration
	verbose bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "Operator tool for the loyalty portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := obs.Logger()
			config.LoadEnv(logger)
			if verbose {
				logger.SetLevel(logrus.DebugLevel)
			}
			if dsn == "" {
				dsn = config.Load().PostgresDSN
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (default $LOYALTYDESK_PG_DSN)")
	root.PersistentFlags().StringVar(&output, "output", "text", "output format: json|text")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline for the command")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newImportCmd())
	root.AddCommand(newHealthCmd())
	root.AddCommand(newSmokeCmd())
	return root
}

func openStore() (*pg.Store, error) {
	if dsn == "" {
		return nil, errors.New("missing DSN: provide --dsn or LOYALTYDESK_PG_DSN")
	}
	return pg.Open(dsn)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
