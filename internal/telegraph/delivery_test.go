package telegraph

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

func newTestPipeline(t *testing.T, adapter *MockAdapter) *Pipeline {
	t.Helper()
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	p, err := NewPipeline(PipelineOpts{Adapter: adapter, ChannelID: "chan-1", Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

// logRecords decodes the JSON lines written by a zerolog logger.
func logRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("log line %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

// findRecord returns the first record at level whose message is msg.
func findRecord(t *testing.T, recs []map[string]any, level, msg string) map[string]any {
	t.Helper()
	for _, r := range recs {
		if r["level"] == level && r["message"] == msg {
			return r
		}
	}
	t.Fatalf("no %s record %q in %v", level, msg, recs)
	return nil
}

func failRich(msg OutboundMessage) error {
	if msg.Format == FormatRich {
		return errors.New("Bad Request: can't parse entities")
	}
	return nil
}

func TestNewPipeline_NilAdapter(t *testing.T) {
	if _, err := NewPipeline(PipelineOpts{}); err == nil {
		t.Fatal("expected error for nil adapter")
	}
}

func TestNewPipeline_AdapterCapabilities(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.SetMarkup(MarkupMarkdown)
	adapter.SetMaxMessageLength(2000)
	p := newTestPipeline(t, adapter)
	if p.markup != MarkupMarkdown {
		t.Errorf("markup = %q, want markdown", p.markup)
	}
	if p.maxLen != 2000 {
		t.Errorf("maxLen = %d, want 2000", p.maxLen)
	}

	p = newTestPipeline(t, NewMockAdapter())
	if p.maxLen != DefaultMaxMessageLength {
		t.Errorf("maxLen = %d, want %d", p.maxLen, DefaultMaxMessageLength)
	}
}

func TestFormat_InlineTagsKept(t *testing.T) {
	p := newTestPipeline(t, NewMockAdapter())
	got, err := p.Format("**bold** and [link](https://x.y)")
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	want := `<strong>bold</strong> and <a href="https://x.y">link</a>`
	if got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}

func TestFormat_StructuralTagsStripped(t *testing.T) {
	p := newTestPipeline(t, NewMockAdapter())
	input := "# Title\n\nintro <!-- hidden -->\n\n---\n\n> quoted\n\n- one\n- two\n\n1. first\n"
	got, err := p.Format(input)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	for _, tag := range []string{"<p>", "</p>", "<h1", "<hr", "<blockquote", "<ul", "<ol", "<li>", "<!--"} {
		if strings.Contains(got, tag) {
			t.Errorf("output still contains %q:\n%s", tag, got)
		}
	}
	for _, text := range []string{"Title", "intro", "quoted", "one", "two", "first"} {
		if !strings.Contains(got, text) {
			t.Errorf("output lost %q:\n%s", text, got)
		}
	}
}

func TestFormat_RenderedIssue(t *testing.T) {
	p := newTestPipeline(t, NewMockAdapter())
	text := "Issue opened by alice\nAssignees: \nSubject: Crash [#42](https://github.com/o/r/issues/42)\n-------\nbody"
	got, err := p.Format(text)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if !strings.Contains(got, `<a href="https://github.com/o/r/issues/42">#42</a>`) {
		t.Errorf("issue link missing: %s", got)
	}
	if strings.Contains(got, "<h2") {
		t.Errorf("heading tags not stripped: %s", got)
	}
}

func TestFormat_MarkdownPassthrough(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.SetMarkup(MarkupMarkdown)
	p := newTestPipeline(t, adapter)
	in := "**bold** [x](https://y)"
	got, err := p.Format(in)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if got != in {
		t.Errorf("Format = %q, want unchanged", got)
	}
}

func TestPlainText(t *testing.T) {
	p := newTestPipeline(t, NewMockAdapter())
	got := p.PlainText("**bold** and [link](https://x.y)")
	if got != "bold and link" {
		t.Errorf("PlainText = %q, want %q", got, "bold and link")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"hello", 0, "hello"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestTruncateUTF16(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"a😀b", 3, "a😀"},
		{"a😀b", 2, "a"}, // never split a surrogate pair
		{"😀😀", 4, "😀😀"},
		{"héllo", 2, "hé"},
		{"hello", 0, "hello"},
	}
	for _, tt := range tests {
		if got := TruncateUTF16(tt.in, tt.max); got != tt.want {
			t.Errorf("TruncateUTF16(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}

func TestDeliver_LengthCapUTF16(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.SetLengthUnit(LengthUTF16)
	p := newTestPipeline(t, adapter)

	res := p.Deliver(context.Background(), RenderedMessage{Text: strings.Repeat("😀", 3000)})
	if res.Status != DeliveryRich {
		t.Fatalf("status = %q", res.Status)
	}
	msg, _ := adapter.LastSent()
	if n := utf16Len(msg.Text); n != DefaultMaxMessageLength {
		t.Errorf("sent %d UTF-16 units, want %d", n, DefaultMaxMessageLength)
	}
	if !utf8.ValidString(msg.Text) {
		t.Error("truncation produced invalid UTF-8")
	}

	adapter.FailSend(failRich)
	p.Deliver(context.Background(), RenderedMessage{Text: strings.Repeat("😀", 3000)})
	msg, _ = adapter.LastSent()
	if n := utf16Len(msg.Text); n > DefaultMaxMessageLength {
		t.Errorf("plain fallback has %d UTF-16 units", n)
	}
}

func TestDeliver_Rich(t *testing.T) {
	adapter := NewMockAdapter()
	p := newTestPipeline(t, adapter)

	res := p.Deliver(context.Background(), RenderedMessage{Text: "**hi**", SourceEventID: 1})
	if res.Status != DeliveryRich {
		t.Fatalf("status = %q, want rich (err %v)", res.Status, res.Err)
	}
	msg, ok := adapter.LastSent()
	if !ok {
		t.Fatal("nothing sent")
	}
	if msg.Text != "<strong>hi</strong>" || msg.Format != FormatRich {
		t.Errorf("sent %+v", msg)
	}
	if msg.ChannelID != "chan-1" || !msg.Silent || !msg.NoLinkPreview {
		t.Errorf("delivery options not set: %+v", msg)
	}
}

func TestDeliver_LengthCap(t *testing.T) {
	adapter := NewMockAdapter()
	p := newTestPipeline(t, adapter)

	res := p.Deliver(context.Background(), RenderedMessage{Text: strings.Repeat("a", 5000)})
	if res.Status != DeliveryRich {
		t.Fatalf("status = %q", res.Status)
	}
	msg, _ := adapter.LastSent()
	if n := utf8.RuneCountInString(msg.Text); n != DefaultMaxMessageLength {
		t.Errorf("sent %d characters, want %d", n, DefaultMaxMessageLength)
	}
}

func TestDeliver_LengthCapPerAdapter(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.SetMaxMessageLength(100)
	p := newTestPipeline(t, adapter)

	p.Deliver(context.Background(), RenderedMessage{Text: strings.Repeat("b", 500)})
	msg, _ := adapter.LastSent()
	if n := utf8.RuneCountInString(msg.Text); n != 100 {
		t.Errorf("sent %d characters, want 100", n)
	}
}

func TestDeliver_PlainFallback(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.FailSend(failRich)
	p := newTestPipeline(t, adapter)

	res := p.Deliver(context.Background(), RenderedMessage{Text: "**hi** there", SourceEventID: 9})
	if res.Status != DeliveryPlain {
		t.Fatalf("status = %q, want plain", res.Status)
	}
	attempts := adapter.Attempts()
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}
	if attempts[0].Format != FormatRich || attempts[1].Format != FormatPlain {
		t.Errorf("formats = %q, %q", attempts[0].Format, attempts[1].Format)
	}
	plain := attempts[1].Text
	if !strings.HasPrefix(plain, "rendered as raw (rendering error: Bad Request: can't parse entities):\n") {
		t.Errorf("plain text = %q", plain)
	}
	if !strings.HasSuffix(plain, "hi there") {
		t.Errorf("plain text lost message body: %q", plain)
	}
	if strings.Contains(plain, "<strong>") {
		t.Errorf("plain text contains markup: %q", plain)
	}
}

func TestDeliver_PlainFallbackTruncated(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.FailSend(failRich)
	p := newTestPipeline(t, adapter)

	p.Deliver(context.Background(), RenderedMessage{Text: strings.Repeat("c", 6000)})
	msg, _ := adapter.LastSent()
	if n := utf8.RuneCountInString(msg.Text); n > DefaultMaxMessageLength {
		t.Errorf("plain fallback has %d characters", n)
	}
}

func TestDeliver_BothFail(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.FailSend(func(OutboundMessage) error { return errors.New("network down") })
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	p, err := NewPipeline(PipelineOpts{Adapter: adapter, ChannelID: "chan-1", Log: zerolog.New(&buf)})
	if err != nil {
		t.Fatal(err)
	}

	original := "Issue opened by alice\nSubject: Crash [#42](https://github.com/o/r/issues/42)"
	res := p.Deliver(context.Background(), RenderedMessage{Text: original, SourceEventID: 77})
	if res.Status != DeliveryFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if res.Err == nil {
		t.Error("expected error")
	}
	if n := len(adapter.Attempts()); n != 2 {
		t.Errorf("attempts = %d, want exactly 2 (one rich, one plain)", n)
	}

	rec := findRecord(t, logRecords(t, &buf), "error", "plain delivery failed, message dropped")
	if rec["text"] != original {
		t.Errorf("logged text = %v, want original %q", rec["text"], original)
	}
	if rec["event_id"] != float64(77) {
		t.Errorf("logged event_id = %v, want 77", rec["event_id"])
	}
	if rec["error"] != "network down" {
		t.Errorf("logged error = %v", rec["error"])
	}
}

func TestNotify(t *testing.T) {
	adapter := NewMockAdapter()
	p := newTestPipeline(t, adapter)
	if err := p.Notify(context.Background(), "Relay online"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	msg, _ := adapter.LastSent()
	if msg.Text != "Relay online" || msg.Format != FormatPlain {
		t.Errorf("sent %+v", msg)
	}

	adapter.FailSend(func(OutboundMessage) error { return errors.New("nope") })
	if err := p.Notify(context.Background(), "x"); err == nil {
		t.Error("expected notify error")
	}
}
