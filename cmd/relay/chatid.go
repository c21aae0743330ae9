package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/issuerelay/internal/config"
	telegramadapter "github.com/zulandar/issuerelay/internal/telegraph/telegram"
)

// chatIDLookup resolves the most recent chat id for a bot token. Tests override it.
var chatIDLookup = func(token string) (int64, error) {
	api, err := telegramadapter.NewAPI(token)
	if err != nil {
		return 0, err
	}
	return telegramadapter.LatestChatID(api)
}

func newChatIDCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chat-id",
		Short: "Print the id of the last Telegram chat that messaged the bot",
		Long:  "Send any message to the bot from the target chat, then run chat-id and put the printed value in chat.channel.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChatID(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relay.yaml", "path to relay config file")
	return cmd
}

func runChatID(cmd *cobra.Command, configPath string) error {
	cfg, err := config.LoadUnvalidated(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Chat.Platform != config.PlatformTelegram {
		return fmt.Errorf("chat-id: only supported for telegram, platform is %q", cfg.Chat.Platform)
	}
	if cfg.Chat.Telegram.Token == "" {
		return fmt.Errorf("chat-id: chat.telegram.token is required")
	}

	id, err := chatIDLookup(cfg.Chat.Telegram.Token)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
