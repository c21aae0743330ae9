package main

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/zulandar/issuerelay/internal/config"
	"github.com/zulandar/issuerelay/internal/telegraph"
	discordadapter "github.com/zulandar/issuerelay/internal/telegraph/discord"
	slackadapter "github.com/zulandar/issuerelay/internal/telegraph/slack"
	telegramadapter "github.com/zulandar/issuerelay/internal/telegraph/telegram"
)

func TestCreateAdapter(t *testing.T) {
	tests := []struct {
		name string
		chat config.ChatConfig
		want interface{}
	}{
		{
			name: "telegram",
			chat: config.ChatConfig{Platform: config.PlatformTelegram, Channel: "-100", Telegram: config.TelegramConfig{Token: "1:a"}},
			want: &telegramadapter.Adapter{},
		},
		{
			name: "slack",
			chat: config.ChatConfig{Platform: config.PlatformSlack, Channel: "C1", Slack: config.SlackConfig{AppToken: "xapp-1", BotToken: "xoxb-1"}},
			want: &slackadapter.Adapter{},
		},
		{
			name: "discord",
			chat: config.ChatConfig{Platform: config.PlatformDiscord, Channel: "D1", Discord: config.DiscordConfig{BotToken: "tok"}},
			want: &discordadapter.Adapter{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := createAdapter(&config.Config{Chat: tt.chat}, zerolog.Nop())
			if err != nil {
				t.Fatalf("createAdapter: %v", err)
			}
			var ok bool
			switch tt.want.(type) {
			case *telegramadapter.Adapter:
				_, ok = a.(*telegramadapter.Adapter)
			case *slackadapter.Adapter:
				_, ok = a.(*slackadapter.Adapter)
			case *discordadapter.Adapter:
				_, ok = a.(*discordadapter.Adapter)
			}
			if !ok {
				t.Errorf("adapter = %T, want %T", a, tt.want)
			}
			if _, ok := a.(telegraph.LengthLimiter); !ok {
				t.Errorf("%T does not declare a length limit", a)
			}
		})
	}
}

func TestCreateAdapter_Unsupported(t *testing.T) {
	_, err := createAdapter(&config.Config{Chat: config.ChatConfig{Platform: "irc"}}, zerolog.Nop())
	if err == nil || !strings.Contains(err.Error(), "unsupported platform") {
		t.Fatalf("err = %v", err)
	}
}

func TestStart_BadConfig(t *testing.T) {
	path := writeConfig(t, "github:\n  repo: nope\n")
	_, err := runCmd(t, "start", "-c", path)
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("err = %v, want load config error", err)
	}
}

func TestLeaseHolder(t *testing.T) {
	if h := leaseHolder(); !strings.Contains(h, ":") {
		t.Errorf("holder = %q, want host:pid", h)
	}
}
