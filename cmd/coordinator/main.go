package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"offline_coordinator/internal/cache"
	"offline_coordinator/internal/config"
	"offline_coordinator/internal/provider"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "coordinator",
	Short:         "Offline cache coordinator for a single origin",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "coordinator.json", "path to the coordinator config file")
	rootCmd.AddCommand(serveCmd, bucketsCmd, sendCmd, healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return provider.NewFileProvider(configPath).Load(cmd.Context())
}

func openStorage(cfg *config.Config) (cache.Storage, error) {
	switch cfg.Storage.Driver {
	case "bolt":
		storage, err := cache.OpenBolt(cfg.Storage.Path, cfg.Network.MaxObjectBytes)
		if err != nil {
			return nil, err
		}
		return storage, nil
	default:
		return cache.NewMemoryStorage(cfg.Network.MaxObjectBytes), nil
	}
}
