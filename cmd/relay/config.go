package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/issuerelay/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the relay configuration",
	}
	cmd.AddCommand(newConfigCheckCmd())
	return cmd
}

func newConfigCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			printConfigSummary(cmd, cfg)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relay.yaml", "path to relay config file")
	return cmd
}

// printConfigSummary prints the effective settings without secrets.
func printConfigSummary(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "repo:           %s\n", cfg.GitHub.Repo)
	if cfg.GitHub.BaseURL != "" {
		fmt.Fprintf(out, "api:            %s\n", cfg.GitHub.BaseURL)
	}
	fmt.Fprintf(out, "platform:       %s\n", cfg.Chat.Platform)
	fmt.Fprintf(out, "channel:        %s\n", cfg.Chat.Channel)
	fmt.Fprintf(out, "reply command:  /%s\n", cfg.Chat.Command)
	fmt.Fprintf(out, "poll interval:  %ds\n", cfg.Relay.PollIntervalSec)
	fmt.Fprintf(out, "watch branches: %s\n", strings.Join(cfg.Relay.WatchBranches, ", "))
	if cfg.Journal.Enabled {
		fmt.Fprintf(out, "journal:        %s, keep %d days, prune %q\n", cfg.Journal.Driver, cfg.Journal.RetentionDays, cfg.Journal.PruneCron)
	} else {
		fmt.Fprintln(out, "journal:        disabled")
	}
	if cfg.Dashboard.Port > 0 {
		fmt.Fprintf(out, "dashboard:      :%d\n", cfg.Dashboard.Port)
	} else {
		fmt.Fprintln(out, "dashboard:      disabled")
	}
	fmt.Fprintln(out, "config OK")
}
