package commands

import (
	"fmt"
	"solwatch/internal/components/telemetry"
	"solwatch/internal/config"
	"solwatch/internal/monitor"

	"github.com/spf13/cobra"
)

var webhookMessage string

func init() {
	webhookCmd.Flags().StringVarP(&webhookMessage, "message", "m", "👋 solwatch webhook test", "The message to post.")
	rootCmd.AddCommand(webhookCmd)
}

var webhookCmd = &cobra.Command{
	Use:   "test-webhook [-m <message>]",
	Short: "Posts a message to the configured discord webhook.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Read(configPath)
		if err != nil {
			return err
		}
		if cfg.Discord.WebhookURL == "" {
			return &monitor.ConfigError{Field: "discord.webhook_url", Reason: "set DISCORD_WEBHOOK"}
		}

		record, err := newDiscord(cfg, telemetry.SlogAPI{}).Send(cmd.Context(), webhookMessage)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "delivered after %d attempt(s)\n", record.Attempts)
		return nil
	},
}
