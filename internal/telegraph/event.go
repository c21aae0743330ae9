package telegraph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedPayload is returned when an event payload lacks a field its
// type requires.
var ErrMalformedPayload = errors.New("malformed payload")

// EventType is the upstream type tag of a timeline event.
type EventType string

const (
	EventIssues       EventType = "IssuesEvent"
	EventIssueComment EventType = "IssueCommentEvent"
	EventPush         EventType = "PushEvent"
	EventPullRequest  EventType = "PullRequestEvent"
)

// EventSource is the upstream issue tracker. ListRecentEvents returns the
// current event page newest first; event IDs increase monotonically.
type EventSource interface {
	ListRecentEvents(ctx context.Context) ([]Event, error)
	CreateIssueComment(ctx context.Context, number int, body string) error
}

// Actor is the user who caused an event.
type Actor struct {
	Login       string
	DisplayName string // profile name; falls back to Login when unset
}

// Name returns the display name, or the login when no display name is known.
func (a Actor) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Login
}

// Event is one immutable timeline entry fetched from the EventSource.
type Event struct {
	ID        int64
	Type      EventType
	Actor     Actor
	Payload   Payload
	Raw       []byte // original payload, kept for diagnostics
	CreatedAt time.Time
}

// Payload is the closed set of payload shapes an Event can carry:
// *IssuesPayload, *IssueCommentPayload, *PushPayload, *PullRequestPayload
// and *UnknownPayload.
type Payload interface {
	eventType() EventType
	validate() error
}

// Issue is the issue part of Issues and IssueComment payloads.
type Issue struct {
	Number    int
	Title     string
	Body      string
	HTMLURL   string
	Assignees []string // logins
}

func (i Issue) validate() error {
	if i.Number <= 0 {
		return fmt.Errorf("%w: issue number missing", ErrMalformedPayload)
	}
	if i.HTMLURL == "" {
		return fmt.Errorf("%w: issue html_url missing", ErrMalformedPayload)
	}
	return nil
}

// IssuesPayload is an issue being opened, edited, closed, etc.
type IssuesPayload struct {
	Action string
	Issue  Issue
}

func (*IssuesPayload) eventType() EventType { return EventIssues }

func (p *IssuesPayload) validate() error {
	if p.Action == "" {
		return fmt.Errorf("%w: action missing", ErrMalformedPayload)
	}
	return p.Issue.validate()
}

// Comment is the comment part of an IssueComment payload.
type Comment struct {
	Body string
}

// IssueCommentPayload is a comment posted on an issue. Comment is nil when
// the payload carried no comment object.
type IssueCommentPayload struct {
	Action  string
	Issue   Issue
	Comment *Comment
}

func (*IssueCommentPayload) eventType() EventType { return EventIssueComment }

func (p *IssueCommentPayload) validate() error {
	if p.Comment == nil {
		return fmt.Errorf("%w: comment missing", ErrMalformedPayload)
	}
	return p.Issue.validate()
}

// Commit is one commit of a push.
type Commit struct {
	AuthorName string
	Message    string
	URL        string // API URL, e.g. https://api.github.com/repos/o/r/commits/<sha>
}

// PushPayload is a push of one or more commits to a ref.
type PushPayload struct {
	Ref     string // e.g. refs/heads/master
	Commits []Commit
}

func (*PushPayload) eventType() EventType { return EventPush }

func (p *PushPayload) validate() error {
	if p.Ref == "" {
		return fmt.Errorf("%w: ref missing", ErrMalformedPayload)
	}
	for i, c := range p.Commits {
		if c.URL == "" {
			return fmt.Errorf("%w: commits[%d].url missing", ErrMalformedPayload, i)
		}
	}
	return nil
}

// PullRequest is the pull request part of a PullRequest payload.
type PullRequest struct {
	HTMLURL            string
	UserLogin          string
	Title              string
	Body               string
	RequestedReviewers []string // logins
}

// PullRequestPayload is a pull request being opened, closed, reviewed, etc.
type PullRequestPayload struct {
	Action      string
	Number      int
	PullRequest PullRequest
}

func (*PullRequestPayload) eventType() EventType { return EventPullRequest }

func (p *PullRequestPayload) validate() error {
	if p.Number <= 0 {
		return fmt.Errorf("%w: pull request number missing", ErrMalformedPayload)
	}
	if p.Action == "" {
		return fmt.Errorf("%w: action missing", ErrMalformedPayload)
	}
	if p.PullRequest.HTMLURL == "" {
		return fmt.Errorf("%w: pull request html_url missing", ErrMalformedPayload)
	}
	return nil
}

// UnknownPayload stands in for event types the relay does not render.
type UnknownPayload struct {
	Type EventType
}

func (p *UnknownPayload) eventType() EventType { return p.Type }

func (*UnknownPayload) validate() error { return nil }
