package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"offline_coordinator/internal/health"
)

var healthAddr string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query the gRPC health service of a running coordinator",
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr := healthAddr
		if addr == "" {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr = cfg.HealthAddr
		}
		if addr == "" {
			return fmt.Errorf("no health address configured")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		for _, service := range []string{health.ServiceCoordinator, health.ServiceOrigin} {
			status, err := health.Check(ctx, addr, service)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", service, status)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthAddr, "addr", "", "health service host:port (defaults to health_addr from the config)")
}
