package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"offline_coordinator/internal/message"
)

var (
	sendAddr    string
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <SKIP_WAITING|FORCE_UPDATE>",
	Short: "Send a control message to a running coordinator as a page would",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msgType := message.Type(strings.ToUpper(args[0]))
		if !msgType.Inbound() {
			return fmt.Errorf("%s is not a page-to-coordinator message", msgType)
		}
		addr := sendAddr
		prefix := "/__coordinator"
		if addr == "" {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr = cfg.ListenAddr
			prefix = cfg.ControlPath()
		}
		// SKIP_WAITING with nothing waiting has no answer.
		var waitFor message.Type
		if msgType == message.TypeForceUpdate {
			waitFor = message.TypeCacheCleared
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()
		reply, err := message.Send(ctx, "http://"+addr+prefix+"/ws", message.Message{Type: msgType}, waitFor)
		if err != nil {
			return err
		}
		if waitFor == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", msgType)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s version=%s\n", reply.Type, reply.Version)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendAddr, "addr", "", "coordinator host:port (defaults to listen_addr from the config)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "how long to wait for the coordinator's answer")
}
