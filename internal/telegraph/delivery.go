package telegraph

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// DefaultMaxMessageLength is the message ceiling used when an adapter does
// not declare one.
const DefaultMaxMessageLength = 4096

// DeliveryStatus classifies the result of Pipeline.Deliver.
type DeliveryStatus string

const (
	DeliveryRich   DeliveryStatus = "rich"
	DeliveryPlain  DeliveryStatus = "plain"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryResult reports what was finally sent (or attempted) for a message.
type DeliveryResult struct {
	Status  DeliveryStatus
	Payload string // the last payload handed to the adapter
	Err     error
}

// structuralTags lists the block-level HTML the chat renderer cannot display,
// with the replacement applied to each match.
var structuralTags = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`<!--[\s\S]*?-->`), ""},
	{regexp.MustCompile(`</?p>`), ""},
	{regexp.MustCompile(`</?h[1-6][^>]*>`), ""},
	{regexp.MustCompile(`<hr\s*/?>`), "\n"},
	{regexp.MustCompile(`</?blockquote>`), "\n"},
	{regexp.MustCompile(`</?[ou]l[^>]*>`), ""},
	{regexp.MustCompile(`</?li>`), ""},
	{regexp.MustCompile(`<br\s*/?>`), "\n"},
}

// Pipeline converts rendered text to the adapter's markup, enforces the
// length ceiling and falls back to plain text when a rich send fails.
type Pipeline struct {
	adapter   Adapter
	channelID string
	markup    Markup
	maxLen    int
	unit      LengthUnit
	md        goldmark.Markdown
	log       zerolog.Logger
}

// PipelineOpts holds parameters for creating a Pipeline.
type PipelineOpts struct {
	Adapter   Adapter
	ChannelID string
	Log       zerolog.Logger
}

// NewPipeline creates a Pipeline. Markup and length ceiling come from the
// adapter when it implements MarkupProvider / LengthLimiter.
func NewPipeline(opts PipelineOpts) (*Pipeline, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: pipeline: adapter is required")
	}
	markup := MarkupHTML
	if mp, ok := opts.Adapter.(MarkupProvider); ok {
		markup = mp.Markup()
	}
	maxLen := DefaultMaxMessageLength
	if ll, ok := opts.Adapter.(LengthLimiter); ok && ll.MaxMessageLength() > 0 {
		maxLen = ll.MaxMessageLength()
	}
	unit := LengthRunes
	if up, ok := opts.Adapter.(LengthUnitProvider); ok && up.LengthUnit() != "" {
		unit = up.LengthUnit()
	}
	return &Pipeline{
		adapter:   opts.Adapter,
		channelID: opts.ChannelID,
		markup:    markup,
		maxLen:    maxLen,
		unit:      unit,
		md:        goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify)),
		log:       opts.Log,
	}, nil
}

// Deliver sends msg in rich format. If that fails, the plain text of the
// message is sent once with a note naming the error. If the plain send also
// fails the original text is logged and the failure returned; there is no
// further retry.
func (p *Pipeline) Deliver(ctx context.Context, msg RenderedMessage) DeliveryResult {
	formatted, err := p.Format(msg.Text)
	if err == nil {
		formatted = p.truncate(formatted)
		err = p.adapter.Send(ctx, p.outbound(formatted, FormatRich))
		if err == nil {
			return DeliveryResult{Status: DeliveryRich, Payload: formatted}
		}
	}

	p.log.Warn().Err(err).Int64("event_id", msg.SourceEventID).
		Msg("rich delivery failed, retrying as plain text")

	plain := p.truncate(fmt.Sprintf("rendered as raw (rendering error: %v):\n%s", err, p.PlainText(msg.Text)))
	if sendErr := p.adapter.Send(ctx, p.outbound(plain, FormatPlain)); sendErr != nil {
		p.log.Error().Err(sendErr).Int64("event_id", msg.SourceEventID).
			Str("text", msg.Text).
			Msg("plain delivery failed, message dropped")
		return DeliveryResult{Status: DeliveryFailed, Payload: plain, Err: sendErr}
	}
	return DeliveryResult{Status: DeliveryPlain, Payload: plain}
}

// Notify sends a short plain-text notice to the channel.
func (p *Pipeline) Notify(ctx context.Context, text string) error {
	if err := p.adapter.Send(ctx, p.outbound(p.truncate(text), FormatPlain)); err != nil {
		return fmt.Errorf("telegraph: notify: %w", err)
	}
	return nil
}

// Format converts markdown-ish text to the adapter's rich markup. For HTML
// adapters the block-level wrappers are stripped since chat clients only
// render inline tags.
func (p *Pipeline) Format(text string) (string, error) {
	if p.markup == MarkupMarkdown {
		return text, nil
	}
	html, err := p.toHTML(text)
	if err != nil {
		return "", err
	}
	for _, t := range structuralTags {
		html = t.re.ReplaceAllString(html, t.repl)
	}
	return strings.TrimSpace(html), nil
}

// PlainText renders text to HTML and extracts only its text content.
func (p *Pipeline) PlainText(text string) string {
	html, err := p.toHTML(text)
	if err != nil {
		return text
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return text
	}
	return strings.TrimSpace(doc.Text())
}

func (p *Pipeline) toHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := p.md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("telegraph: pipeline: render markdown: %w", err)
	}
	return buf.String(), nil
}

func (p *Pipeline) outbound(text string, format Format) OutboundMessage {
	return OutboundMessage{
		ChannelID:     p.channelID,
		Text:          text,
		Format:        format,
		Silent:        true,
		NoLinkPreview: true,
	}
}

func (p *Pipeline) truncate(s string) string {
	if p.unit == LengthUTF16 {
		return TruncateUTF16(s, p.maxLen)
	}
	return Truncate(s, p.maxLen)
}

// Truncate cuts s to at most max characters (runes).
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// TruncateUTF16 cuts s to at most max UTF-16 code units without splitting a
// surrogate pair.
func TruncateUTF16(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i, r := range s {
		w := utf16RuneLen(r)
		if w < 0 {
			w = 1 // invalid UTF-8 decodes to U+FFFD
		}
		if n+w > max {
			return s[:i]
		}
		n += w
	}
	return s
}

// utf16RuneLen mirrors unicode/utf16.RuneLen (Go 1.23+) for older toolchains.
func utf16RuneLen(r rune) int {
	switch {
	case 0 <= r && r < 0xd800, 0xe000 <= r && r < 0x10000:
		return 1
	case 0x10000 <= r && r <= utf8.MaxRune:
		return 2
	default:
		return -1
	}
}
