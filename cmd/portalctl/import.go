package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"loyaltydesk.org/internal/audit"
	"loyaltydesk.org/internal/auth"
	"loyaltydesk.org/internal/config"
	"loyaltydesk.org/internal/imports"
	"loyaltydesk.org/internal/obs"
)

func newImportCmd() *cobra.Command {
	var (
		uploader  string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import a partner spend export on behalf of a staff principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if uploader == "" {
				return errors.New("--uploader is required")
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := commandContext(cmd)
			defer cancel()

			profile, err := st.Profiles().ProfileByID(ctx, uploader)
			if err != nil {
				return fmt.Errorf("look up uploader: %w", err)
			}
			role := auth.DefaultResolver(st.Profiles(), nil).Resolve(ctx, profile.ID)
			if !role.Satisfies(auth.RoleStaff) {
				return fmt.Errorf("uploader %s has role %s; staff is required", profile.ID, role)
			}
			principal := profile.Principal()
			ctx = auth.ContextWithSession(ctx, auth.Session{Principal: &principal, Role: role, Ready: true})

			log := obs.NewLogger("portalctl")
			if batchSize <= 0 {
				batchSize = config.Load().ImportBatch
			}
			pipeline := imports.NewPipeline(st.Imports(), st.Organizations(),
				imports.WithBatchSize(batchSize),
				imports.WithAuditor(audit.NewRecorder(st.Audit(), log)),
				imports.WithLogger(log),
			)
			res, runErr := pipeline.Run(ctx, imports.Upload{FileName: filepath.Base(args[0]), Body: f})
			if runErr != nil && !errors.Is(runErr, imports.ErrInterrupted) {
				return runErr
			}
			if output == "json" {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				return runErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "batch %s: %d rows, %d written, %d failed\n",
				res.BatchID, res.TotalRows, res.SuccessCount, res.FailureCount)
			for _, fail := range res.Failures {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", fail.Error())
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&uploader, "uploader", "", "principal id recorded as the uploader")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "rows per write batch (default $LOYALTYDESK_IMPORT_BATCH_SIZE)")
	return cmd
}
