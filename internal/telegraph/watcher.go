package telegraph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// DefaultPollInterval is used when WatcherOpts.PollInterval is unset.
const DefaultPollInterval = 180 * time.Second

// DispatchFunc handles one new event and reports its outcome.
type DispatchFunc func(ctx context.Context, event Event) Outcome

// Watcher polls the EventSource and advances a watermark: the highest event
// ID already handled. The watermark never decreases, and events at or below
// it are never dispatched.
type Watcher struct {
	source       EventSource
	botLogin     string
	pollInterval time.Duration
	log          zerolog.Logger

	// Written only by the polling goroutine; read by Status.
	watermark  *atomic.Int64
	seeded     *atomic.Bool
	lastPollAt *atomic.Time
	lastErr    *atomic.Error
}

// WatcherOpts holds parameters for creating a Watcher.
type WatcherOpts struct {
	Source       EventSource
	BotLogin     string        // events by this actor are never dispatched
	PollInterval time.Duration // defaults to DefaultPollInterval
	Log          zerolog.Logger
}

// NewWatcher creates a Watcher. Call Seed before the first Poll to skip the
// backlog already present in the feed.
func NewWatcher(opts WatcherOpts) (*Watcher, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("telegraph: watcher: source is required")
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Watcher{
		source:       opts.Source,
		botLogin:     opts.BotLogin,
		pollInterval: poll,
		log:          opts.Log,
		watermark:    atomic.NewInt64(0),
		seeded:       atomic.NewBool(false),
		lastPollAt:   atomic.NewTime(time.Time{}),
		lastErr:      atomic.NewError(nil),
	}, nil
}

// Seed sets the watermark to the newest event currently in the feed (0 for
// an empty feed) so that history is never replayed.
func (w *Watcher) Seed(ctx context.Context) error {
	events, err := w.source.ListRecentEvents(ctx)
	if err != nil {
		return fmt.Errorf("telegraph: watcher: seed: %w", err)
	}
	w.seed(events)
	return nil
}

func (w *Watcher) seed(events []Event) {
	var newest int64
	for _, e := range events {
		if e.ID > newest {
			newest = e.ID
		}
	}
	w.advance(newest)
	w.seeded.Store(true)
	w.log.Info().Int64("watermark", w.watermark.Load()).Msg("watermark seeded")
}

// Poll fetches the feed and returns the events newer than the watermark in
// ascending ID order, excluding the relay's own events. The watermark is
// advanced to the newest returned-or-filtered ID before Poll returns. On a
// fetch error the watermark is unchanged.
//
// If Seed has not succeeded yet, Poll seeds instead and returns nothing.
func (w *Watcher) Poll(ctx context.Context) ([]Event, error) {
	events, err := w.source.ListRecentEvents(ctx)
	w.lastPollAt.Store(time.Now())
	if err != nil {
		err = fmt.Errorf("telegraph: watcher: list events: %w", err)
		w.lastErr.Store(err)
		return nil, err
	}
	w.lastErr.Store(nil)

	if !w.seeded.Load() {
		w.seed(events)
		return nil, nil
	}

	mark := w.watermark.Load()
	var fresh []Event
	for _, e := range events {
		// The feed is newest first and contiguous, so the first known
		// event ends the scan.
		if e.ID <= mark {
			break
		}
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].ID < fresh[j].ID })
	w.advance(fresh[len(fresh)-1].ID)

	out := fresh[:0]
	for _, e := range fresh {
		if w.isSelf(e) {
			w.log.Debug().Int64("event_id", e.ID).Str("actor", e.Actor.Login).
				Msg("skipping own event")
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Cycle runs one poll cycle: Poll, then dispatch each new event in order.
// A failing or panicking dispatch is recorded as a failed outcome and does
// not affect the other events.
func (w *Watcher) Cycle(ctx context.Context, dispatch DispatchFunc) CycleResult {
	result := CycleResult{At: time.Now()}
	events, err := w.Poll(ctx)
	result.Watermark = w.watermark.Load()
	if err != nil {
		result.Err = err
		return result
	}
	result.Fetched = len(events)
	for _, e := range events {
		result.Outcomes = append(result.Outcomes, safeDispatch(ctx, dispatch, e))
	}
	return result
}

// Run sleeps for the poll interval, runs a cycle to completion, and repeats
// until ctx is cancelled. Cycles never overlap: slow delivery stretches the
// effective polling period. onCycle, if non-nil, is called after each cycle.
func (w *Watcher) Run(ctx context.Context, dispatch DispatchFunc, onCycle func(CycleResult)) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		w.log.Debug().Msg("starting new update cycle")
		result := w.Cycle(ctx, dispatch)
		if result.Err != nil {
			w.log.Error().Err(result.Err).Msg("poll cycle failed")
		} else if result.Fetched > 0 {
			w.log.Info().Int("events", result.Fetched).
				Int("failed", result.Count(OutcomeFailed)).
				Int64("watermark", result.Watermark).
				Msg("poll cycle complete")
		}
		if onCycle != nil {
			onCycle(result)
		}
		timer.Reset(w.pollInterval)
	}
}

// Watermark returns the highest event ID already handled.
func (w *Watcher) Watermark() int64 {
	return w.watermark.Load()
}

// Seeded reports whether the initial watermark has been established.
func (w *Watcher) Seeded() bool {
	return w.seeded.Load()
}

// LastPoll returns when the feed was last fetched and the error, if any.
func (w *Watcher) LastPoll() (time.Time, error) {
	return w.lastPollAt.Load(), w.lastErr.Load()
}

// advance raises the watermark to id; lower values are ignored.
func (w *Watcher) advance(id int64) {
	if id > w.watermark.Load() {
		w.watermark.Store(id)
	}
}

func (w *Watcher) isSelf(e Event) bool {
	return w.botLogin != "" && strings.EqualFold(e.Actor.Login, w.botLogin)
}

func safeDispatch(ctx context.Context, dispatch DispatchFunc, e Event) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{
				EventID:   e.ID,
				EventType: e.Type,
				Status:    OutcomeFailed,
				Err:       fmt.Errorf("telegraph: dispatch event %d panicked: %v", e.ID, r),
			}
		}
	}()
	return dispatch(ctx, e)
}
