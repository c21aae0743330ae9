package github

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	gh "github.com/google/go-github/v68/github"
	"github.com/rs/zerolog"
	"github.com/zulandar/issuerelay/internal/telegraph"
)

// DefaultPerPage is the event page size requested when SourceOpts.PerPage is unset.
const DefaultPerPage = 100

// nameRetryAfter is how long a failed display-name lookup is remembered
// before the login is looked up again.
const nameRetryAfter = time.Hour

// Source reads a repository's event timeline and posts issue comments. It
// implements telegraph.EventSource.
type Source struct {
	client  *gh.Client
	owner   string
	repo    string
	perPage int
	log     zerolog.Logger

	mu     sync.Mutex
	names  map[string]string    // login -> profile name
	failed map[string]time.Time // login -> time of the last failed lookup
	now    func() time.Time
}

// SourceOpts holds parameters for creating a Source.
type SourceOpts struct {
	Client  *gh.Client
	Owner   string
	Repo    string
	PerPage int
	Log     zerolog.Logger
}

// NewSource creates a Source for owner/repo.
func NewSource(opts SourceOpts) (*Source, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("github: client is required")
	}
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("github: owner and repo are required")
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	return &Source{
		client:  opts.Client,
		owner:   opts.Owner,
		repo:    opts.Repo,
		perPage: perPage,
		log:     opts.Log,
		names:   make(map[string]string),
		failed:  make(map[string]time.Time),
		now:     time.Now,
	}, nil
}

// ListRecentEvents returns the first page of repository events, newest first.
// Events with an unparsable ID are logged and dropped.
func (s *Source) ListRecentEvents(ctx context.Context) ([]telegraph.Event, error) {
	raw, _, err := s.client.Activity.ListRepositoryEvents(ctx, s.owner, s.repo, &gh.ListOptions{PerPage: s.perPage})
	if err != nil {
		return nil, fmt.Errorf("github: list events %s/%s: %w", s.owner, s.repo, err)
	}

	events := make([]telegraph.Event, 0, len(raw))
	for _, e := range raw {
		id, err := strconv.ParseInt(e.GetID(), 10, 64)
		if err != nil {
			s.log.Warn().Str("id", e.GetID()).Str("event_type", e.GetType()).Msg("skipping event with invalid id")
			continue
		}
		events = append(events, telegraph.Event{
			ID:        id,
			Type:      telegraph.EventType(e.GetType()),
			Actor:     s.actor(ctx, e.GetActor().GetLogin()),
			Payload:   convertPayload(e),
			Raw:       e.GetRawPayload(),
			CreatedAt: e.GetCreatedAt().Time,
		})
	}
	return events, nil
}

// CreateIssueComment posts body as a new comment on issue number.
func (s *Source) CreateIssueComment(ctx context.Context, number int, body string) error {
	_, _, err := s.client.Issues.CreateComment(ctx, s.owner, s.repo, number, &gh.IssueComment{Body: gh.Ptr(body)})
	if err != nil {
		return fmt.Errorf("github: comment on #%d: %w", number, err)
	}
	return nil
}

// actor resolves login's profile name once and caches it. A failed lookup
// falls back to the login and is not retried for nameRetryAfter, so bots and
// deleted accounts cost one request per login rather than one per event.
func (s *Source) actor(ctx context.Context, login string) telegraph.Actor {
	if login == "" {
		return telegraph.Actor{}
	}
	s.mu.Lock()
	name, ok := s.names[login]
	failedAt, failed := s.failed[login]
	s.mu.Unlock()
	if ok {
		return telegraph.Actor{Login: login, DisplayName: name}
	}
	if failed && s.now().Sub(failedAt) < nameRetryAfter {
		return telegraph.Actor{Login: login}
	}

	user, _, err := s.client.Users.Get(ctx, login)
	if err != nil {
		s.log.Debug().Err(err).Str("login", login).Msg("resolve display name failed")
		if ctx.Err() == nil {
			s.mu.Lock()
			s.failed[login] = s.now()
			s.mu.Unlock()
		}
		return telegraph.Actor{Login: login}
	}
	name = user.GetName()
	s.mu.Lock()
	s.names[login] = name
	delete(s.failed, login)
	s.mu.Unlock()
	return telegraph.Actor{Login: login, DisplayName: name}
}

// convertPayload maps the API payload of e to the relay's payload variant.
// Unsupported types and payloads that fail to decode map to UnknownPayload
// or to a payload missing its required fields, which the renderer rejects.
func convertPayload(e *gh.Event) telegraph.Payload {
	typ := telegraph.EventType(e.GetType())
	switch typ {
	case telegraph.EventIssues, telegraph.EventIssueComment, telegraph.EventPush, telegraph.EventPullRequest:
	default:
		return &telegraph.UnknownPayload{Type: typ}
	}

	// A decode error leaves parsed nil and falls through to the empty variant.
	parsed, _ := e.ParsePayload()
	switch p := parsed.(type) {
	case *gh.IssuesEvent:
		return &telegraph.IssuesPayload{Action: p.GetAction(), Issue: convertIssue(p.GetIssue())}
	case *gh.IssueCommentEvent:
		out := &telegraph.IssueCommentPayload{
			Action: p.GetAction(),
			Issue:  convertIssue(p.GetIssue()),
		}
		if c := p.GetComment(); c != nil {
			out.Comment = &telegraph.Comment{Body: c.GetBody()}
		}
		return out
	case *gh.PushEvent:
		commits := make([]telegraph.Commit, 0, len(p.Commits))
		for _, c := range p.Commits {
			commits = append(commits, telegraph.Commit{
				AuthorName: c.GetAuthor().GetName(),
				Message:    c.GetMessage(),
				URL:        c.GetURL(),
			})
		}
		return &telegraph.PushPayload{Ref: p.GetRef(), Commits: commits}
	case *gh.PullRequestEvent:
		pr := p.GetPullRequest()
		if pr == nil {
			pr = &gh.PullRequest{}
		}
		return &telegraph.PullRequestPayload{
			Action: p.GetAction(),
			Number: p.GetNumber(),
			PullRequest: telegraph.PullRequest{
				HTMLURL:            pr.GetHTMLURL(),
				UserLogin:          pr.GetUser().GetLogin(),
				Title:              pr.GetTitle(),
				Body:               pr.GetBody(),
				RequestedReviewers: logins(pr.RequestedReviewers),
			},
		}
	}

	// Undecodable payload of a supported type: an empty variant fails
	// validation and is reported as malformed.
	switch typ {
	case telegraph.EventIssues:
		return &telegraph.IssuesPayload{}
	case telegraph.EventIssueComment:
		return &telegraph.IssueCommentPayload{}
	case telegraph.EventPush:
		return &telegraph.PushPayload{}
	default:
		return &telegraph.PullRequestPayload{}
	}
}

func convertIssue(i *gh.Issue) telegraph.Issue {
	if i == nil {
		return telegraph.Issue{}
	}
	return telegraph.Issue{
		Number:    i.GetNumber(),
		Title:     i.GetTitle(),
		Body:      i.GetBody(),
		HTMLURL:   i.GetHTMLURL(),
		Assignees: logins(i.Assignees),
	}
}

func logins(users []*gh.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		if l := u.GetLogin(); l != "" {
			out = append(out, l)
		}
	}
	return out
}
