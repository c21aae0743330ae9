// Package config provides YAML-based configuration loading for the relay.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported chat platforms.
const (
	PlatformTelegram = "telegram"
	PlatformSlack    = "slack"
	PlatformDiscord  = "discord"
)

// Config is the top-level relay configuration, loaded from relay.yaml.
type Config struct {
	GitHub    GitHubConfig    `yaml:"github"`
	Chat      ChatConfig      `yaml:"chat"`
	Relay     RelayConfig     `yaml:"relay"`
	Journal   JournalConfig   `yaml:"journal"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Log       LogConfig       `yaml:"log"`
}

// GitHubConfig holds the upstream issue tracker settings.
type GitHubConfig struct {
	Token    string `yaml:"token"`
	Repo     string `yaml:"repo"`     // owner/name
	BaseURL  string `yaml:"base_url"` // GitHub Enterprise API root; empty for github.com
	PerPage  int    `yaml:"per_page"`
	BotLogin string `yaml:"bot_login"` // events by this login are never relayed
}

// ChatConfig holds the chat platform settings.
type ChatConfig struct {
	Platform string         `yaml:"platform"`
	Channel  string         `yaml:"channel"`
	Command  string         `yaml:"command"` // reply keyword without prefix, e.g. "r"
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
	Discord  DiscordConfig  `yaml:"discord"`
}

// TelegramConfig holds Telegram bot credentials.
type TelegramConfig struct {
	Token string `yaml:"token"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// RelayConfig tunes the forward poller and the reply path.
type RelayConfig struct {
	PollIntervalSec int      `yaml:"poll_interval_sec"`
	WatchBranches   []string `yaml:"watch_branches"`
	CommentVia      string   `yaml:"comment_via"` // label in "by <name> via <label>"
}

// JournalConfig controls the optional delivery journal.
type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Driver        string `yaml:"driver"` // sqlite or mysql
	Path          string `yaml:"path"`   // sqlite file
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	Database      string `yaml:"database"`
	RetentionDays int    `yaml:"retention_days"`
	PruneCron     string `yaml:"prune_cron"`
}

// DashboardConfig controls the status HTTP server. Port 0 disables it.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, console or json
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references, unmarshals YAML bytes and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated reads and defaults a config file without validating it,
// for bootstrap commands that run before the config is complete.
func LoadUnvalidated(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return decode(data)
}

// decode expands ${VAR} references, unmarshals YAML bytes and applies defaults.
func decode(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Owner returns the repository owner part of github.repo.
func (c *Config) Owner() string {
	owner, _, _ := strings.Cut(c.GitHub.Repo, "/")
	return owner
}

// RepoName returns the repository name part of github.repo.
func (c *Config) RepoName() string {
	_, name, _ := strings.Cut(c.GitHub.Repo, "/")
	return name
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.GitHub.PerPage <= 0 {
		c.GitHub.PerPage = 100
	}
	if c.Chat.Platform == "" {
		c.Chat.Platform = PlatformTelegram
	}
	c.Chat.Platform = strings.ToLower(c.Chat.Platform)
	if c.Chat.Command == "" {
		c.Chat.Command = "r"
	}
	c.Chat.Command = strings.TrimLeft(c.Chat.Command, "/!")
	if c.Relay.PollIntervalSec <= 0 {
		c.Relay.PollIntervalSec = 180
	}
	if len(c.Relay.WatchBranches) == 0 {
		c.Relay.WatchBranches = []string{"master"}
	}
	if c.Relay.CommentVia == "" {
		c.Relay.CommentVia = c.Chat.Platform
	}
	if c.Journal.Driver == "" {
		c.Journal.Driver = "sqlite"
	}
	if c.Journal.Driver == "sqlite" && c.Journal.Path == "" {
		c.Journal.Path = "relay-journal.db"
	}
	if c.Journal.Driver == "mysql" {
		if c.Journal.Host == "" {
			c.Journal.Host = "127.0.0.1"
		}
		if c.Journal.Port == 0 {
			c.Journal.Port = 3306
		}
		if c.Journal.User == "" {
			c.Journal.User = "root"
		}
	}
	if c.Journal.RetentionDays <= 0 {
		c.Journal.RetentionDays = 14
	}
	if c.Journal.PruneCron == "" {
		c.Journal.PruneCron = "0 3 * * *"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.GitHub.Token == "" {
		errs = append(errs, "github.token is required")
	}
	if owner, name, ok := strings.Cut(c.GitHub.Repo, "/"); !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		errs = append(errs, fmt.Sprintf("github.repo must be owner/name, got %q", c.GitHub.Repo))
	}
	if c.GitHub.PerPage > 100 {
		errs = append(errs, "github.per_page must be at most 100")
	}
	if c.Chat.Channel == "" {
		errs = append(errs, "chat.channel is required")
	}
	if strings.ContainsAny(c.Chat.Command, " \t\n") {
		errs = append(errs, "chat.command must be a single word")
	}
	switch c.Chat.Platform {
	case PlatformTelegram:
		if c.Chat.Telegram.Token == "" {
			errs = append(errs, "chat.telegram.token is required")
		}
	case PlatformSlack:
		if c.Chat.Slack.BotToken == "" {
			errs = append(errs, "chat.slack.bot_token is required")
		}
		if c.Chat.Slack.AppToken == "" {
			errs = append(errs, "chat.slack.app_token is required")
		}
	case PlatformDiscord:
		if c.Chat.Discord.BotToken == "" {
			errs = append(errs, "chat.discord.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("chat.platform %q is not supported", c.Chat.Platform))
	}
	for i, b := range c.Relay.WatchBranches {
		if strings.TrimSpace(b) == "" {
			errs = append(errs, fmt.Sprintf("relay.watch_branches[%d] is empty", i))
		}
	}
	if c.Journal.Enabled {
		switch c.Journal.Driver {
		case "sqlite":
		case "mysql":
			if c.Journal.Database == "" {
				errs = append(errs, "journal.database is required for mysql")
			}
		default:
			errs = append(errs, fmt.Sprintf("journal.driver %q is not supported", c.Journal.Driver))
		}
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, "dashboard.port must be between 0 and 65535")
	}
	switch c.Log.Format {
	case "auto", "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not supported", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
