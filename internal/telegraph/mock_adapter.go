package telegraph

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockAdapter implements Adapter for testing. It records sent messages,
// can be told to fail sends, and allows simulating inbound messages via
// SimulateInbound.
type MockAdapter struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan InboundMessage
	sent      []OutboundMessage
	attempts  []OutboundMessage
	failSend  func(OutboundMessage) error
	botUserID string
	markup    Markup
	maxLen    int
	unit      LengthUnit
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound: make(chan InboundMessage, 100),
		markup:  MarkupHTML,
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// Markup implements MarkupProvider.
func (m *MockAdapter) Markup() Markup {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markup
}

// SetMarkup changes the markup the mock declares.
func (m *MockAdapter) SetMarkup(markup Markup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markup = markup
}

// MaxMessageLength implements LengthLimiter. Zero means the default.
func (m *MockAdapter) MaxMessageLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxLen
}

// SetMaxMessageLength changes the length ceiling the mock declares.
func (m *MockAdapter) SetMaxMessageLength(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxLen = n
}

// LengthUnit implements LengthUnitProvider. Empty means runes.
func (m *MockAdapter) LengthUnit() LengthUnit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unit
}

// SetLengthUnit changes the length unit the mock declares.
func (m *MockAdapter) SetLengthUnit(u LengthUnit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unit = u
}

// FailSend makes Send return fn's error for messages where fn returns non-nil.
// Pass nil to restore normal behavior.
func (m *MockAdapter) FailSend(fn func(OutboundMessage) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSend = fn
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound message channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Send records the outbound message.
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.attempts = append(m.attempts, msg)
	if m.failSend != nil {
		if err := m.failSend(msg); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends a message into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.inbound <- msg
}

// LastSent returns the most recently sent outbound message.
// Returns zero value and false if no messages have been sent.
func (m *MockAdapter) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of outbound messages sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent outbound messages.
func (m *MockAdapter) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// Attempts returns a copy of every message passed to Send, including failed ones.
func (m *MockAdapter) Attempts() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.attempts))
	copy(out, m.attempts)
	return out
}

// MockSource implements EventSource for testing. Events are returned as
// configured (callers control order); created comments are recorded.
type MockSource struct {
	mu         sync.Mutex
	events     []Event
	listErr    error
	commentErr error
	listCalls  int
	comments   []MockComment
}

// MockComment is a comment recorded by MockSource.CreateIssueComment.
type MockComment struct {
	Number int
	Body   string
}

// NewMockSource creates a MockSource returning events.
func NewMockSource(events ...Event) *MockSource {
	return &MockSource{events: events}
}

// SetEvents replaces the feed returned by ListRecentEvents.
func (s *MockSource) SetEvents(events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
}

// SetListError makes ListRecentEvents fail with err (nil to clear).
func (s *MockSource) SetListError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// SetCommentError makes CreateIssueComment fail with err (nil to clear).
func (s *MockSource) SetCommentError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commentErr = err
}

// ListRecentEvents returns a copy of the configured feed.
func (s *MockSource) ListRecentEvents(ctx context.Context) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out, nil
}

// CreateIssueComment records the comment.
func (s *MockSource) CreateIssueComment(ctx context.Context, number int, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commentErr != nil {
		return s.commentErr
	}
	s.comments = append(s.comments, MockComment{Number: number, Body: body})
	return nil
}

// Comments returns a copy of the recorded comments.
func (s *MockSource) Comments() []MockComment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MockComment, len(s.comments))
	copy(out, s.comments)
	return out
}

// ListCalls returns how many times ListRecentEvents was called.
func (s *MockSource) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}
