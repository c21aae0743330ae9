// Package telegraph relays issue tracker activity into a chat channel and
// relays chat replies back as issue comments.
package telegraph

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management and message sending/receiving
// for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string    // e.g. "telegram", "slack"
	ChannelID string    // platform-specific channel identifier
	UserID    string    // platform-specific user identifier
	UserName  string    // human-readable display name
	Text      string    // raw message text
	Timestamp time.Time // when the message was sent
}

// Format selects how an adapter interprets OutboundMessage.Text.
type Format string

const (
	// FormatRich means Text is in the adapter's native markup (see Markup).
	FormatRich Format = "rich"
	// FormatPlain means Text must be sent without any markup parsing.
	FormatPlain Format = "plain"
)

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID     string // target channel; empty uses the adapter default
	Text          string
	Format        Format
	Silent        bool // deliver without a notification sound
	NoLinkPreview bool // suppress link previews/unfurls
}

// Markup identifies the rich text dialect an adapter renders.
type Markup string

const (
	MarkupHTML     Markup = "html"
	MarkupMarkdown Markup = "markdown"
)

// MarkupProvider is an optional interface adapters implement to declare the
// dialect FormatRich messages must use. Adapters without it get HTML.
type MarkupProvider interface {
	Markup() Markup
}

// LengthLimiter is an optional interface adapters implement to declare their
// maximum message length in characters. Adapters without it get
// DefaultMaxMessageLength.
type LengthLimiter interface {
	MaxMessageLength() int
}

// LengthUnit names how an adapter's platform measures message length.
type LengthUnit string

const (
	LengthRunes LengthUnit = "runes"
	LengthUTF16 LengthUnit = "utf16" // UTF-16 code units, as Telegram counts
)

// LengthUnitProvider is an optional interface adapters implement when their
// length ceiling is not counted in runes.
type LengthUnitProvider interface {
	LengthUnit() LengthUnit
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// BotUserNamer is an optional interface that adapters can implement to expose
// the bot's handle, used to accept addressed commands such as "/r@relaybot".
type BotUserNamer interface {
	BotUserName() string
}
