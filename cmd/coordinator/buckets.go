package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "Inspect or purge cache buckets in the configured storage",
}

var bucketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bucket names with their entry counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		storage, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer storage.Close()

		names, err := storage.Names()
		if err != nil {
			return err
		}
		for _, name := range names {
			marker := ""
			if name == cfg.BucketName() {
				marker = " (configured)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d%s\n", name, storage.Bucket(name).Len(), marker)
		}
		return nil
	},
}

var purgeAll bool

var bucketsPurgeCmd = &cobra.Command{
	Use:   "purge [bucket...]",
	Short: "Delete buckets other than the configured version's, or the named ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		storage, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer storage.Close()

		targets := args
		if len(targets) == 0 {
			names, err := storage.Names()
			if err != nil {
				return err
			}
			for _, name := range names {
				if purgeAll || name != cfg.BucketName() {
					targets = append(targets, name)
				}
			}
		}
		for _, name := range targets {
			deleted, err := storage.Delete(name)
			if err != nil {
				return err
			}
			if deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
			}
		}
		return nil
	},
}

func init() {
	bucketsPurgeCmd.Flags().BoolVar(&purgeAll, "all", false, "also delete the configured version's bucket")
	bucketsCmd.AddCommand(bucketsListCmd, bucketsPurgeCmd)
}
