package telegraph

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Notices sent back to the channel by the ReplyHandler.
const (
	noticeUnknownIssue = "Can't send. Don't know which Issue you mean..."
	noticeEmptyReply   = "Nothing to send. Usage: %s [issue number] <message>"
	noticeInvalidIssue = "Can't send. %q is not a valid issue number."
	noticeInferred     = "referring to Issue #%d"
	noticePostFailed   = "Failed to post comment to Issue #%d."
)

// Notifier sends short plain-text notices to the relay channel.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// InboundCommand is a reply command received from chat.
type InboundCommand struct {
	Platform          string
	SenderDisplayName string
	RawText           string // full message text including the command keyword
}

// ReplyStatus classifies the result of a reply command.
type ReplyStatus string

const (
	ReplyPosted   ReplyStatus = "posted"
	ReplyRejected ReplyStatus = "rejected" // no upstream call was made
	ReplyFailed   ReplyStatus = "failed"   // upstream comment creation failed
)

// ReplyResult reports how a reply command was resolved.
type ReplyResult struct {
	Status   ReplyStatus
	Issue    int
	Inferred bool // issue came from the relay context, not the message
	Body     string
	Err      error
}

// ReplyHandler turns reply commands into issue comments upstream.
type ReplyHandler struct {
	source   EventSource
	relayCtx *RelayContext
	notifier Notifier
	keyword  string
	via      string
	log      zerolog.Logger
}

// ReplyHandlerOpts holds parameters for creating a ReplyHandler.
type ReplyHandlerOpts struct {
	Source   EventSource
	Context  *RelayContext
	Notifier Notifier
	Keyword  string // bare command keyword, e.g. "r" for "/r" and "!r"
	Via      string // label in the comment attribution, e.g. "telegram"
	Log      zerolog.Logger
}

// NewReplyHandler creates a ReplyHandler.
func NewReplyHandler(opts ReplyHandlerOpts) (*ReplyHandler, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("telegraph: reply handler: source is required")
	}
	if opts.Context == nil {
		return nil, fmt.Errorf("telegraph: reply handler: relay context is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("telegraph: reply handler: notifier is required")
	}
	if opts.Keyword == "" {
		return nil, fmt.Errorf("telegraph: reply handler: keyword is required")
	}
	via := opts.Via
	if via == "" {
		via = "relay"
	}
	return &ReplyHandler{
		source:   opts.Source,
		relayCtx: opts.Context,
		notifier: opts.Notifier,
		keyword:  opts.Keyword,
		via:      via,
		log:      opts.Log,
	}, nil
}

// Handle resolves the target issue of cmd and posts its body as a comment.
// An explicit leading issue number wins over the relay context. Without
// either, the sender is told and nothing is posted.
func (h *ReplyHandler) Handle(ctx context.Context, cmd InboundCommand) ReplyResult {
	log := h.log.With().Str("sender", cmd.SenderDisplayName).Logger()
	text := stripCommand(cmd.RawText, h.keyword)

	issue, body, explicit, err := parseReply(text)
	if err != nil {
		log.Warn().Str("text", text).Msg("reply rejected: invalid issue number")
		h.notify(ctx, fmt.Sprintf(noticeInvalidIssue, strings.Fields(text)[0]))
		return ReplyResult{Status: ReplyRejected, Body: text, Err: err}
	}
	if body == "" {
		log.Warn().Msg("reply rejected: empty message")
		h.notify(ctx, fmt.Sprintf(noticeEmptyReply, "/"+h.keyword))
		return ReplyResult{Status: ReplyRejected, Issue: issue}
	}

	if !explicit {
		latest, known := h.relayCtx.LatestIssue()
		if !known {
			log.Warn().Str("text", body).Msg("reply rejected: unknown issue")
			h.notify(ctx, noticeUnknownIssue)
			return ReplyResult{Status: ReplyRejected, Body: body}
		}
		issue = latest
		h.notify(ctx, fmt.Sprintf(noticeInferred, issue))
	}

	log = log.With().Int("issue", issue).Bool("inferred", !explicit).Logger()
	log.Info().Str("text", body).Msg("chat to issue comment")

	comment := fmt.Sprintf("**by %s via %s**\n%s", senderName(cmd.SenderDisplayName), h.via, body)
	if err := h.source.CreateIssueComment(ctx, issue, comment); err != nil {
		log.Error().Err(err).Str("text", body).Msg("create issue comment failed")
		h.notify(ctx, fmt.Sprintf(noticePostFailed, issue))
		return ReplyResult{Status: ReplyFailed, Issue: issue, Inferred: !explicit, Body: body, Err: err}
	}
	return ReplyResult{Status: ReplyPosted, Issue: issue, Inferred: !explicit, Body: body}
}

func (h *ReplyHandler) notify(ctx context.Context, text string) {
	if err := h.notifier.Notify(ctx, text); err != nil {
		h.log.Error().Err(err).Str("notice", text).Msg("send reply notice failed")
	}
}

// commandPrefixes are the characters that may introduce a command keyword.
var commandPrefixes = []string{"/", "!"}

// stripCommand removes the command keyword (and an optional "@botname"
// suffix) from the start of text and trims surrounding whitespace.
func stripCommand(text, keyword string) string {
	text = strings.TrimSpace(text)
	var rest string
	var ok bool
	for _, p := range commandPrefixes {
		rest, ok = strings.CutPrefix(text, p+keyword)
		if ok && (rest == "" || rest[0] == '@' || isSpace(rune(rest[0]))) {
			break
		}
		ok = false
	}
	if !ok {
		return text
	}
	if strings.HasPrefix(rest, "@") {
		if i := strings.IndexFunc(rest, isSpace); i >= 0 {
			rest = rest[i:]
		} else {
			rest = ""
		}
	}
	return strings.TrimSpace(rest)
}

// parseReply splits "42 some text" into an explicit issue number and body.
// Text whose first token is not all digits is returned whole as the body.
func parseReply(text string) (issue int, body string, explicit bool, err error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0, "", false, nil
	}
	first := fields[0]
	if !isDigits(first) {
		return 0, text, false, nil
	}
	n, err := strconv.Atoi(first)
	if err != nil || n <= 0 {
		return 0, "", false, fmt.Errorf("telegraph: reply: invalid issue number %q", first)
	}
	body = strings.TrimSpace(strings.TrimPrefix(text, first))
	return n, body, true, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func senderName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "unknown"
	}
	return name
}
