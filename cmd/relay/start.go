package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zulandar/issuerelay/internal/config"
	"github.com/zulandar/issuerelay/internal/dashboard"
	"github.com/zulandar/issuerelay/internal/db"
	ghsource "github.com/zulandar/issuerelay/internal/github"
	"github.com/zulandar/issuerelay/internal/journal"
	"github.com/zulandar/issuerelay/internal/telegraph"
	discordadapter "github.com/zulandar/issuerelay/internal/telegraph/discord"
	slackadapter "github.com/zulandar/issuerelay/internal/telegraph/slack"
	telegramadapter "github.com/zulandar/issuerelay/internal/telegraph/telegram"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the relay daemon",
		Long:  "Connects to the configured chat platform, relays repository events and posts chat replies as issue comments until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relay.yaml", "path to relay config file")
	return cmd
}

func runStart(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutdown requested")
			cancel()
		case <-ctx.Done():
		}
	}()

	ghClient, err := ghsource.NewClient(ctx, cfg.GitHub.Token, cfg.GitHub.BaseURL)
	if err != nil {
		return err
	}
	source, err := ghsource.NewSource(ghsource.SourceOpts{
		Client:  ghClient,
		Owner:   cfg.Owner(),
		Repo:    cfg.RepoName(),
		PerPage: cfg.GitHub.PerPage,
		Log:     log.With().Str("component", "github").Logger(),
	})
	if err != nil {
		return err
	}

	adapter, err := createAdapter(cfg, log)
	if err != nil {
		return err
	}

	opts := telegraph.DaemonOpts{
		Config:  cfg,
		Adapter: adapter,
		Source:  source,
		Log:     log,
	}
	var deliveries dashboard.DeliveryLister
	if cfg.Journal.Enabled {
		j, release, err := openJournal(ctx, cancel, cfg, log)
		if err != nil {
			return err
		}
		defer release()
		opts.Journal = j
		deliveries = j
	}

	daemon, err := telegraph.NewDaemon(opts)
	if err != nil {
		return err
	}

	if cfg.Dashboard.Port > 0 {
		go func() {
			err := dashboard.Start(ctx, dashboard.StartOpts{
				Status:     daemon,
				Deliveries: deliveries,
				Port:       cfg.Dashboard.Port,
				Log:        log.With().Str("component", "dashboard").Logger(),
			})
			if err != nil {
				log.Error().Err(err).Msg("dashboard stopped")
			}
		}()
	}

	return daemon.Run(ctx)
}

// openJournal opens the journal database and takes the relay lease for the
// configured repo and channel. Losing the lease cancels the daemon. The
// returned func releases the lease and closes the database.
func openJournal(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, log zerolog.Logger) (*journal.Journal, func(), error) {
	gdb, err := db.Open(cfg.Journal)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	}

	jlog := log.With().Str("component", "journal").Logger()
	j, err := journal.New(gdb, jlog)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	lease, err := j.AcquireLease(ctx, cfg.GitHub.Repo, cfg.Chat.Channel, leaseHolder(), journal.DefaultLeaseTimeout)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	go func() {
		if err := j.KeepLease(ctx, lease.ID, journal.DefaultLeaseTimeout/3); err != nil {
			jlog.Error().Err(err).Msg("relay lease lost, stopping")
			cancel()
		}
	}()

	release := func() {
		releaseCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := j.ReleaseLease(releaseCtx, lease.ID); err != nil {
			jlog.Warn().Err(err).Msg("release relay lease failed")
		}
		closeDB()
	}
	return j, release, nil
}

// leaseHolder identifies this process in the lease table.
func leaseHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config, log zerolog.Logger) (telegraph.Adapter, error) {
	alog := log.With().Str("component", cfg.Chat.Platform).Logger()
	switch cfg.Chat.Platform {
	case config.PlatformTelegram:
		return telegramadapter.New(telegramadapter.AdapterOpts{
			Token:  cfg.Chat.Telegram.Token,
			ChatID: cfg.Chat.Channel,
			Log:    alog,
		})
	case config.PlatformSlack:
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken:  cfg.Chat.Slack.AppToken,
			BotToken:  cfg.Chat.Slack.BotToken,
			ChannelID: cfg.Chat.Channel,
			Log:       alog,
		})
	case config.PlatformDiscord:
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken:  cfg.Chat.Discord.BotToken,
			ChannelID: cfg.Chat.Channel,
			Log:       alog,
		})
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Chat.Platform)
	}
}
