package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"loyaltydesk.org/internal/config"
)

func newHealthCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the api server's gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = config.Load().GRPCAddr
			}
			if strings.HasPrefix(addr, ":") {
				addr = "localhost" + addr
			}
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := commandContext(cmd)
			defer cancel()
			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
			if err != nil {
				return fmt.Errorf("health check %s: %w", addr, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus().String())
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("%s is not serving", addr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "gRPC address (default $LOYALTYDESK_GRPC_ADDR)")
	return cmd
}
