package telegraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// helpKeyword answers with usage text.
const helpKeyword = "help"

// Router classifies inbound chat messages and routes them: the reply
// keyword goes to the ReplyHandler, help gets usage text, the bot's own
// messages and everything else are ignored.
type Router struct {
	reply       *ReplyHandler
	notifier    Notifier
	keyword     string
	botUserID   string // the bot's own user ID (to filter self-messages)
	botUserName string // the bot's handle (to accept "/r@handle")
	log         zerolog.Logger
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Reply       *ReplyHandler
	Notifier    Notifier
	Keyword     string // bare reply keyword, e.g. "r"
	BotUserID   string
	BotUserName string
	Log         zerolog.Logger
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Reply == nil {
		return nil, fmt.Errorf("telegraph: router: reply handler is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("telegraph: router: notifier is required")
	}
	if opts.Keyword == "" {
		return nil, fmt.Errorf("telegraph: router: keyword is required")
	}
	return &Router{
		reply:       opts.Reply,
		notifier:    opts.Notifier,
		keyword:     opts.Keyword,
		botUserID:   opts.BotUserID,
		botUserName: opts.BotUserName,
		log:         opts.Log,
	}, nil
}

// Handle classifies and routes a single inbound message. It returns the
// reply result and true when the message was a reply command.
func (r *Router) Handle(ctx context.Context, msg InboundMessage) (ReplyResult, bool) {
	if r.isSelfMessage(msg) {
		return ReplyResult{}, false
	}

	text := strings.TrimSpace(msg.Text)
	cmd, ok := r.command(text)
	if !ok {
		return ReplyResult{}, false
	}

	r.log.Info().Str("sender", msg.UserName).Str("user_id", msg.UserID).
		Str("command", cmd).Msg("receiving command")

	switch cmd {
	case r.keyword:
		return r.reply.Handle(ctx, InboundCommand{
			Platform:          msg.Platform,
			SenderDisplayName: msg.UserName,
			RawText:           text,
		}), true
	case helpKeyword:
		if err := r.notifier.Notify(ctx, r.helpText()); err != nil {
			r.log.Error().Err(err).Msg("send help failed")
		}
	}
	return ReplyResult{}, false
}

// command extracts the keyword of a "/kw", "!kw" or "/kw@bot" message.
// Commands addressed to a different bot are ignored.
func (r *Router) command(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	head := fields[0]
	var kw string
	var ok bool
	for _, p := range commandPrefixes {
		if kw, ok = strings.CutPrefix(head, p); ok {
			break
		}
	}
	if !ok {
		return "", false
	}
	kw, addressee, addressed := strings.Cut(kw, "@")
	if addressed && r.botUserName != "" && !strings.EqualFold(addressee, r.botUserName) {
		return "", false
	}
	if kw != r.keyword && kw != helpKeyword {
		return "", false
	}
	return kw, true
}

func (r *Router) helpText() string {
	return fmt.Sprintf("Reply to an issue from chat:\n"+
		"/%[1]s <message> posts to the issue last relayed here\n"+
		"/%[1]s <number> <message> posts to issue <number>", r.keyword)
}

// isSelfMessage returns true if the message is from the bot itself.
func (r *Router) isSelfMessage(msg InboundMessage) bool {
	return r.botUserID != "" && msg.UserID == r.botUserID
}
