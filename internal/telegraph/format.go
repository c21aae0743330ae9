package telegraph

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// RenderedMessage is the text produced for one event, ready for delivery.
type RenderedMessage struct {
	Text          string
	SourceEventID int64
}

// Renderer maps events to chat text. Apart from recording the latest issue
// number in its RelayContext it has no side effects.
type Renderer struct {
	relayCtx *RelayContext
	watch    map[string]bool
	log      zerolog.Logger
}

// RendererOpts holds parameters for creating a Renderer.
type RendererOpts struct {
	Context       *RelayContext
	WatchBranches []string // push events to other branches are dropped
	Log           zerolog.Logger
}

// NewRenderer creates a Renderer.
func NewRenderer(opts RendererOpts) (*Renderer, error) {
	if opts.Context == nil {
		return nil, fmt.Errorf("telegraph: renderer: relay context is required")
	}
	watch := make(map[string]bool, len(opts.WatchBranches))
	for _, b := range opts.WatchBranches {
		watch[b] = true
	}
	return &Renderer{
		relayCtx: opts.Context,
		watch:    watch,
		log:      opts.Log,
	}, nil
}

// Render produces the chat text for event. ok is false when the event
// deliberately produces no message (unsupported type, unwatched branch).
// A payload missing required fields yields an error wrapping
// ErrMalformedPayload.
func (r *Renderer) Render(event Event) (msg RenderedMessage, ok bool, err error) {
	if event.Payload == nil {
		return RenderedMessage{}, false, fmt.Errorf("%w: no payload for %s", ErrMalformedPayload, event.Type)
	}
	if err := event.Payload.validate(); err != nil {
		return RenderedMessage{}, false, err
	}

	var text string
	switch p := event.Payload.(type) {
	case *IssuesPayload:
		text = renderIssue(event.Actor, p)
		r.relayCtx.SetLatestIssue(p.Issue.Number)
	case *IssueCommentPayload:
		text = renderIssueComment(event.Actor, p)
		r.relayCtx.SetLatestIssue(p.Issue.Number)
	case *PushPayload:
		branch, watched := r.watchedBranch(p.Ref)
		if !watched {
			r.log.Debug().Int64("event_id", event.ID).Str("ref", p.Ref).
				Msg("branch not watched, skipping push notification")
			return RenderedMessage{}, false, nil
		}
		if len(p.Commits) == 0 {
			r.log.Debug().Int64("event_id", event.ID).Str("branch", branch).
				Msg("push without commits, skipping")
			return RenderedMessage{}, false, nil
		}
		text = renderPush(branch, p)
	case *PullRequestPayload:
		text = renderPullRequest(p)
	case *UnknownPayload:
		r.log.Debug().Int64("event_id", event.ID).Str("event_type", string(p.Type)).
			Msg("event type not handled")
		return RenderedMessage{}, false, nil
	default:
		return RenderedMessage{}, false, fmt.Errorf("telegraph: renderer: unexpected payload %T", p)
	}

	return RenderedMessage{Text: text, SourceEventID: event.ID}, true, nil
}

// watchedBranch extracts the branch from a refs/heads/ ref and reports
// whether it is on the watch list. Tags never match.
func (r *Renderer) watchedBranch(ref string) (string, bool) {
	branch, ok := strings.CutPrefix(ref, "refs/heads/")
	if !ok {
		return ref, false
	}
	return branch, r.watch[branch]
}

func renderIssue(actor Actor, p *IssuesPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Issue %s by %s\n", p.Action, actor.Name())
	fmt.Fprintf(&b, "Assignees: %s\n", strings.Join(p.Issue.Assignees, ", "))
	fmt.Fprintf(&b, "Subject: %s [#%d](%s)\n", p.Issue.Title, p.Issue.Number, p.Issue.HTMLURL)
	b.WriteString("-------\n")
	b.WriteString(p.Issue.Body)
	return b.String()
}

func renderIssueComment(actor Actor, p *IssueCommentPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New Comment on Issue: [#%d %s](%s)\n", p.Issue.Number, p.Issue.Title, p.Issue.HTMLURL)
	fmt.Fprintf(&b, "by *%s*\n", actor.Name())
	b.WriteString(p.Comment.Body)
	return b.String()
}

func renderPush(branch string, p *PushPayload) string {
	var b strings.Builder
	plural := "s"
	if len(p.Commits) == 1 {
		plural = ""
	}
	fmt.Fprintf(&b, "%d new commit%s to %s\n", len(p.Commits), plural, branch)
	for _, c := range p.Commits {
		b.WriteString("-----\n")
		fmt.Fprintf(&b, "by %s\n", c.AuthorName)
		fmt.Fprintf(&b, "%s [visit here](%s)\n", c.Message, CommitWebURL(c.URL))
	}
	return b.String()
}

func renderPullRequest(p *PullRequestPayload) string {
	pr := p.PullRequest
	var b strings.Builder
	fmt.Fprintf(&b, "[PR #%d](%s) %s\n", p.Number, pr.HTMLURL, p.Action)
	b.WriteString("by " + pr.UserLogin)
	if len(pr.RequestedReviewers) > 0 {
		b.WriteString(" | requested reviewers: " + strings.Join(pr.RequestedReviewers, ", "))
	}
	b.WriteString("\n")
	b.WriteString(pr.Title + "\n")
	b.WriteString("-----\n")
	b.WriteString(pr.Body)
	return b.String()
}

// CommitWebURL rewrites an API commit URL into the browsable one:
//
//	https://api.github.com/repos/o/r/commits/abc   -> https://github.com/o/r/commit/abc
//	https://ghe.example.com/api/v3/repos/o/r/commits/abc -> https://ghe.example.com/o/r/commit/abc
//
// URLs that do not look like API commit URLs are returned unchanged.
func CommitWebURL(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return apiURL
	}
	path := u.Path
	switch {
	case strings.HasPrefix(u.Host, "api."):
		u.Host = strings.TrimPrefix(u.Host, "api.")
	case strings.HasPrefix(path, "/api/v3/"):
		path = strings.TrimPrefix(path, "/api/v3")
	default:
		return apiURL
	}
	path = strings.TrimPrefix(path, "/repos")
	path = strings.Replace(path, "/commits/", "/commit/", 1)
	u.Path = path
	u.RawPath = ""
	return u.String()
}
