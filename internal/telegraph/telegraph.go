package telegraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/issuerelay/internal/config"
)

// Journal records dispatch outcomes for later inspection.
type Journal interface {
	Record(ctx context.Context, o Outcome) error
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Status is a point-in-time view of the daemon for the status endpoint.
type Status struct {
	Platform      string        `json:"platform"`
	Repo          string        `json:"repo"`
	Seeded        bool          `json:"seeded"`
	Watermark     int64         `json:"watermark"`
	LatestIssue   int           `json:"latest_issue,omitempty"`
	LastPollAt    time.Time     `json:"last_poll_at"`
	LastPollError string        `json:"last_poll_error,omitempty"`
	Stats         StatsSnapshot `json:"stats"`
}

// Daemon is the main relay process. It connects to a chat platform via an
// Adapter, polls the EventSource on one goroutine and handles inbound reply
// commands on another.
type Daemon struct {
	cfg      *config.Config
	adapter  Adapter
	source   EventSource
	journal  Journal
	log      zerolog.Logger
	relayCtx *RelayContext
	renderer *Renderer
	pipeline *Pipeline
	watcher  *Watcher
	replies  *ReplyHandler
	stats    *Stats
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Config  *config.Config
	Adapter Adapter
	Source  EventSource
	Journal Journal // optional
	Log     zerolog.Logger
}

// NewDaemon creates a Daemon and all of its components.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("telegraph: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("telegraph: source is required")
	}
	cfg := opts.Config
	log := opts.Log

	relayCtx := NewRelayContext()
	renderer, err := NewRenderer(RendererOpts{
		Context:       relayCtx,
		WatchBranches: cfg.Relay.WatchBranches,
		Log:           log.With().Str("component", "renderer").Logger(),
	})
	if err != nil {
		return nil, err
	}
	pipeline, err := NewPipeline(PipelineOpts{
		Adapter:   opts.Adapter,
		ChannelID: cfg.Chat.Channel,
		Log:       log.With().Str("component", "pipeline").Logger(),
	})
	if err != nil {
		return nil, err
	}
	watcher, err := NewWatcher(WatcherOpts{
		Source:       opts.Source,
		BotLogin:     cfg.GitHub.BotLogin,
		PollInterval: time.Duration(cfg.Relay.PollIntervalSec) * time.Second,
		Log:          log.With().Str("component", "watcher").Logger(),
	})
	if err != nil {
		return nil, err
	}
	replies, err := NewReplyHandler(ReplyHandlerOpts{
		Source:   opts.Source,
		Context:  relayCtx,
		Notifier: pipeline,
		Keyword:  cfg.Chat.Command,
		Via:      cfg.Relay.CommentVia,
		Log:      log.With().Str("component", "reply").Logger(),
	})
	if err != nil {
		return nil, err
	}

	return &Daemon{
		cfg:      cfg,
		adapter:  opts.Adapter,
		source:   opts.Source,
		journal:  opts.Journal,
		log:      log,
		relayCtx: relayCtx,
		renderer: renderer,
		pipeline: pipeline,
		watcher:  watcher,
		replies:  replies,
		stats:    &Stats{},
	}, nil
}

// Run connects the adapter, seeds the watermark, starts the poller and the
// journal pruner, and pumps inbound messages until ctx is cancelled. On
// shutdown it closes the adapter gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info().Str("platform", d.cfg.Chat.Platform).Msg("relay connecting")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}

	var botUserID, botUserName string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}
	if bun, ok := d.adapter.(BotUserNamer); ok {
		botUserName = bun.BotUserName()
	}

	router, err := NewRouter(RouterOpts{
		Reply:       d.replies,
		Notifier:    d.pipeline,
		Keyword:     d.cfg.Chat.Command,
		BotUserID:   botUserID,
		BotUserName: botUserName,
		Log:         d.log.With().Str("component", "router").Logger(),
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: build router: %w", err)
	}

	// A failed seed is retried by the first successful poll.
	if err := d.watcher.Seed(ctx); err != nil {
		d.log.Warn().Err(err).Msg("initial fetch failed, watermark will be seeded on first poll")
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}

	go d.watcher.Run(ctx, d.dispatch, d.stats.observeCycle)
	if d.journal != nil {
		go d.runPruneScheduler(ctx)
	}

	d.log.Info().Int64("watermark", d.watcher.Watermark()).Msg("relay online")
	if err := d.pipeline.Notify(ctx, "Relay online"); err != nil {
		d.log.Warn().Err(err).Msg("send online message failed")
	}

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("relay shutting down")
			d.sendShutdown()
			if err := d.adapter.Close(); err != nil {
				d.log.Error().Err(err).Msg("close adapter failed")
			}
			return nil

		case msg, ok := <-inbound:
			if !ok {
				d.log.Warn().Msg("inbound channel closed")
				return nil
			}
			if result, handled := router.Handle(ctx, msg); handled {
				d.stats.observeReply(result)
			}
		}
	}
}

// dispatch renders and delivers one event, recording the outcome.
func (d *Daemon) dispatch(ctx context.Context, event Event) Outcome {
	log := d.log.With().Int64("event_id", event.ID).Str("event_type", string(event.Type)).Logger()
	outcome := Outcome{EventID: event.ID, EventType: event.Type}

	msg, ok, err := d.renderer.Render(event)
	switch {
	case err != nil:
		log.Error().Err(err).RawJSON("payload", rawPayload(event)).Msg("error in handling event")
		outcome.Status = OutcomeFailed
		outcome.Err = err
	case !ok:
		outcome.Status = OutcomeSkipped
	default:
		log.Info().Msg("sending message for event")
		outcome.Text = msg.Text
		res := d.pipeline.Deliver(ctx, msg)
		switch res.Status {
		case DeliveryRich:
			outcome.Status = OutcomeDelivered
		case DeliveryPlain:
			outcome.Status = OutcomeDeliveredPlain
		default:
			outcome.Status = OutcomeFailed
			outcome.Err = res.Err
		}
	}

	d.stats.observeOutcome(outcome)
	if d.journal != nil {
		if err := d.journal.Record(ctx, outcome); err != nil {
			log.Warn().Err(err).Msg("journal record failed")
		}
	}
	return outcome
}

// runPruneScheduler deletes journal rows older than the retention period
// on the configured cron schedule.
func (d *Daemon) runPruneScheduler(ctx context.Context) {
	expr := d.cfg.Journal.PruneCron
	retention := time.Duration(d.cfg.Journal.RetentionDays) * 24 * time.Hour
	log := d.log.With().Str("component", "journal").Logger()

	for {
		wait, err := nextCronDuration(expr, time.Now())
		if err != nil {
			log.Error().Err(err).Msg("journal pruning disabled")
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		n, err := d.journal.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("journal prune failed")
			}
			continue
		}
		log.Info().Int64("rows", n).Msg("journal pruned")
	}
}

// Status returns the current watermark, relay context and counters.
func (d *Daemon) Status() Status {
	at, err := d.watcher.LastPoll()
	latest, _ := d.relayCtx.LatestIssue()
	s := Status{
		Platform:    d.cfg.Chat.Platform,
		Repo:        d.cfg.GitHub.Repo,
		Seeded:      d.watcher.Seeded(),
		Watermark:   d.watcher.Watermark(),
		LatestIssue: latest,
		LastPollAt:  at,
		Stats:       d.stats.Snapshot(),
	}
	if err != nil {
		s.LastPollError = err.Error()
	}
	return s
}

// sendShutdown posts a shutdown message to the adapter (best-effort).
func (d *Daemon) sendShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.pipeline.Notify(ctx, "Relay shutting down"); err != nil {
		d.log.Warn().Err(err).Msg("send shutdown message failed")
	}
}

// rawPayload returns the event's raw payload as JSON for log lines. Invalid
// JSON is quoted as a string.
func rawPayload(e Event) []byte {
	if len(e.Raw) == 0 {
		return []byte("null")
	}
	if !json.Valid(e.Raw) {
		quoted, _ := json.Marshal(string(e.Raw))
		return quoted
	}
	return e.Raw
}
