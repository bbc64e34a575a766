package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loyaltydesk.org/internal/obs"
	"loyaltydesk.org/internal/seed"
)

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate development data",
	}

	var (
		dev       bool
		principal string
		bonus     int64
	)
	rewardsCmd := &cobra.Command{
		Use:   "rewards",
		Short: "Write the default tier ladder and milestones into empty tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !dev {
				return fmt.Errorf("refusing to seed without --dev")
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			// The api server's catalog cache expires on its own TTL.
			seeder, err := seed.New(st.Rewards(), st.Ledger(), nil, obs.NewLogger("portalctl"))
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			rep, err := seeder.Run(ctx, seed.Options{PrincipalID: principal, Bonus: bonus})
			if err != nil {
				return err
			}
			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tiers created: %d\nmilestones created: %d\nbonus awarded: %t\n",
				rep.TiersCreated, rep.MilestonesCreated, rep.BonusAwarded)
			return nil
		},
	}
	rewardsCmd.Flags().BoolVar(&dev, "dev", false, "confirm this is a development database")
	rewardsCmd.Flags().StringVar(&principal, "principal", "", "principal to receive the one-time welcome bonus")
	rewardsCmd.Flags().Int64Var(&bonus, "bonus", 0, "override the catalog bonus points")

	cmd.AddCommand(rewardsCmd)
	return cmd
}
