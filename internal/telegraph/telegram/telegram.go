// Package telegram implements the telegraph Adapter for Telegram using Bot
// API long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/zulandar/issuerelay/internal/telegraph"
)

const (
	// maxRetries is the max number of retries for flood-limited API calls.
	maxRetries = 3
	// maxRetryAfter caps the server-requested wait.
	maxRetryAfter = time.Minute
	// maxMessageLength is Telegram's text limit for sendMessage, in UTF-16
	// code units.
	maxMessageLength = 4096
	// pollTimeout is the long polling timeout in seconds.
	pollTimeout = 60
)

// botAPI abstracts the tgbotapi.BotAPI methods we use, enabling test mocks.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// Adapter implements telegraph.Adapter for Telegram.
type Adapter struct {
	api         botAPI
	token       string
	chatID      string // default chat: numeric id or @channelname
	botUserID   string
	botUserName string
	log         zerolog.Logger
	mu          sync.Mutex
	connected   bool
	closed      bool
	listening   bool
	inbound     chan telegraph.InboundMessage
	done        chan struct{}
	retryUnit   time.Duration
}

// AdapterOpts holds parameters for creating a Telegram Adapter.
type AdapterOpts struct {
	Token  string // bot token from @BotFather
	ChatID string // default chat to post to
	Log    zerolog.Logger
	// For testing: inject a mock API and bot identity instead of calling getMe.
	API         botAPI
	BotUserID   int64
	BotUserName string
}

// New creates a Telegram Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.API == nil && opts.Token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	a := &Adapter{
		api:         opts.API,
		token:       opts.Token,
		chatID:      opts.ChatID,
		botUserName: opts.BotUserName,
		log:         opts.Log,
		inbound:     make(chan telegraph.InboundMessage, 100),
		done:        make(chan struct{}),
		retryUnit:   time.Second,
	}
	if opts.BotUserID != 0 {
		a.botUserID = strconv.FormatInt(opts.BotUserID, 10)
	}
	return a, nil
}

// Connect authenticates the bot token via getMe.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("telegram: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.api == nil {
		bot, err := tgbotapi.NewBotAPI(a.token)
		if err != nil {
			return fmt.Errorf("telegram: authenticate: %w", err)
		}
		a.api = bot
		a.botUserID = strconv.FormatInt(bot.Self.ID, 10)
		a.botUserName = bot.Self.UserName
	}

	a.connected = true
	a.log.Info().Str("user", a.botUserName).Str("user_id", a.botUserID).Msg("telegram: connected")
	return nil
}

// Listen starts long polling and returns a channel of inbound text messages.
// The channel is closed when ctx is cancelled or the adapter is closed.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("telegram: not connected")
	}
	if a.listening {
		return a.inbound, nil
	}
	a.listening = true

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	u.AllowedUpdates = []string{"message", "channel_post"}
	updates := a.api.GetUpdatesChan(u)

	go a.pump(ctx, updates)
	return a.inbound, nil
}

func (a *Adapter) pump(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	// The pump owns inbound once listening starts.
	defer func() {
		a.api.StopReceivingUpdates()
		a.mu.Lock()
		a.closed = true
		a.connected = false
		a.mu.Unlock()
		close(a.inbound)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			msg, ok := a.convert(u)
			if !ok {
				continue
			}
			select {
			case a.inbound <- msg:
			case <-ctx.Done():
				return
			case <-a.done:
				return
			}
		}
	}
}

// convert maps an update to an InboundMessage. Non-text updates and the
// bot's own messages are dropped.
func (a *Adapter) convert(u tgbotapi.Update) (telegraph.InboundMessage, bool) {
	m := u.Message
	if m == nil {
		m = u.ChannelPost
	}
	if m == nil || m.Text == "" || m.Chat == nil {
		return telegraph.InboundMessage{}, false
	}

	msg := telegraph.InboundMessage{
		Platform:  "telegram",
		ChannelID: strconv.FormatInt(m.Chat.ID, 10),
		Text:      m.Text,
		Timestamp: m.Time(),
	}
	if m.From != nil {
		msg.UserID = strconv.FormatInt(m.From.ID, 10)
		msg.UserName = displayName(m.From)
		if msg.UserID == a.BotUserID() {
			return telegraph.InboundMessage{}, false
		}
	}
	return msg, true
}

// displayName joins first and last name, falling back to the username.
func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

// Send posts a message. Rich text is sent with HTML parse mode; plain text
// is sent without any parse mode.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("telegram: not connected")
	}
	api := a.api
	a.mu.Unlock()

	chatID := msg.ChannelID
	if chatID == "" {
		chatID = a.chatID
	}
	cfg, err := buildMessageConfig(chatID, msg)
	if err != nil {
		return err
	}

	err = a.retryOnFlood(ctx, func() error {
		_, sendErr := api.Send(cfg)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// buildMessageConfig translates an OutboundMessage into a sendMessage call.
func buildMessageConfig(chatID string, msg telegraph.OutboundMessage) (tgbotapi.MessageConfig, error) {
	var cfg tgbotapi.MessageConfig
	switch {
	case chatID == "":
		return cfg, fmt.Errorf("telegram: no chat specified")
	case strings.HasPrefix(chatID, "@"):
		cfg = tgbotapi.NewMessageToChannel(chatID, msg.Text)
	default:
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("telegram: invalid chat id %q", chatID)
		}
		cfg = tgbotapi.NewMessage(id, msg.Text)
	}
	if msg.Format == telegraph.FormatRich {
		cfg.ParseMode = tgbotapi.ModeHTML
	}
	cfg.DisableNotification = msg.Silent
	cfg.DisableWebPagePreview = msg.NoLinkPreview
	return cfg, nil
}

// retryOnFlood calls fn and retries when Telegram answers 429 with a
// retry_after hint. Other errors are returned immediately.
func (a *Adapter) retryOnFlood(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != 429 || attempt == maxRetries {
			return err
		}

		wait := time.Duration(apiErr.RetryAfter) * a.retryUnit
		if wait <= 0 {
			wait = a.retryUnit
		}
		if wait > maxRetryAfter {
			wait = maxRetryAfter
		}
		a.log.Warn().Int("attempt", attempt+1).Int("max", maxRetries).Dur("wait", wait).
			Msg("telegram: flood limited, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Close stops long polling. The inbound channel is closed once the polling
// goroutine has exited.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	close(a.done)
	if !a.listening {
		close(a.inbound)
	}
	return nil
}

// BotUserID returns the bot's numeric user ID as a string.
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// BotUserName returns the bot's @username without the "@".
func (a *Adapter) BotUserName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserName
}

// Markup reports that rich messages are written in HTML.
func (a *Adapter) Markup() telegraph.Markup { return telegraph.MarkupHTML }

// MaxMessageLength returns Telegram's message text limit.
func (a *Adapter) MaxMessageLength() int { return maxMessageLength }

// LengthUnit reports that Telegram counts text length in UTF-16 code units.
func (a *Adapter) LengthUnit() telegraph.LengthUnit { return telegraph.LengthUTF16 }

// LatestChatID returns the chat id of the most recent message the bot has
// received, for bootstrapping chat.channel. It does not acknowledge updates.
func LatestChatID(api botAPI) (int64, error) {
	updates, err := api.GetUpdates(tgbotapi.NewUpdate(0))
	if err != nil {
		return 0, fmt.Errorf("telegram: get updates: %w", err)
	}
	for i := len(updates) - 1; i >= 0; i-- {
		u := updates[i]
		if chat := u.FromChat(); chat != nil {
			return chat.ID, nil
		}
	}
	return 0, fmt.Errorf("telegram: no messages received yet; send the bot a message first")
}

// NewAPI authenticates token and returns the Bot API client, for callers
// that need it outside an Adapter.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: authenticate: %w", err)
	}
	return bot, nil
}
