package telegraph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func issueEvent(id int64, number int, login string) Event {
	return Event{
		ID:    id,
		Type:  EventIssues,
		Actor: Actor{Login: login},
		Payload: &IssuesPayload{
			Action: "opened",
			Issue: Issue{
				Number:  number,
				Title:   "Bug",
				Body:    "it broke",
				HTMLURL: "https://github.com/o/r/issues/1",
			},
		},
	}
}

// newestFirst builds a feed in the order the upstream API returns it.
func newestFirst(events ...Event) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[len(events)-1-i] = e
	}
	return out
}

func newTestWatcher(t *testing.T, src EventSource, botLogin string) *Watcher {
	t.Helper()
	w, err := NewWatcher(WatcherOpts{Source: src, BotLogin: botLogin, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w
}

func ids(events []Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- NewWatcher tests ---

func TestNewWatcher_NilSource(t *testing.T) {
	_, err := NewWatcher(WatcherOpts{})
	if err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestNewWatcher_Defaults(t *testing.T) {
	w := newTestWatcher(t, NewMockSource(), "")
	if w.pollInterval != DefaultPollInterval {
		t.Errorf("poll interval = %v, want %v", w.pollInterval, DefaultPollInterval)
	}
	if w.Seeded() {
		t.Error("new watcher should not be seeded")
	}
	if w.Watermark() != 0 {
		t.Errorf("watermark = %d, want 0", w.Watermark())
	}
}

// --- Seed tests ---

func TestSeed_UsesNewestID(t *testing.T) {
	src := NewMockSource(newestFirst(issueEvent(100, 1, "a"), issueEvent(105, 2, "a"), issueEvent(110, 3, "a"))...)
	w := newTestWatcher(t, src, "")

	if err := w.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if w.Watermark() != 110 {
		t.Errorf("watermark = %d, want 110", w.Watermark())
	}
	if !w.Seeded() {
		t.Error("expected seeded")
	}
}

func TestSeed_EmptyFeed(t *testing.T) {
	w := newTestWatcher(t, NewMockSource(), "")
	if err := w.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if w.Watermark() != 0 {
		t.Errorf("watermark = %d, want 0", w.Watermark())
	}
	if !w.Seeded() {
		t.Error("empty feed should still seed")
	}
}

func TestSeed_Error(t *testing.T) {
	src := NewMockSource()
	src.SetListError(errors.New("rate limited"))
	w := newTestWatcher(t, src, "")

	if err := w.Seed(context.Background()); err == nil {
		t.Fatal("expected seed error")
	}
	if w.Seeded() {
		t.Error("failed seed must not mark the watcher seeded")
	}
}

// --- Poll tests ---

func TestPoll_NewEventsAscending(t *testing.T) {
	src := NewMockSource(newestFirst(issueEvent(100, 1, "a"))...)
	w := newTestWatcher(t, src, "")
	if err := w.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	src.SetEvents(newestFirst(
		issueEvent(100, 1, "a"),
		issueEvent(103, 2, "a"),
		issueEvent(104, 3, "a"),
		issueEvent(107, 4, "a"),
	)...)

	got, err := w.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if want := []int64{103, 104, 107}; !equalIDs(ids(got), want) {
		t.Errorf("ids = %v, want %v", ids(got), want)
	}
	if w.Watermark() != 107 {
		t.Errorf("watermark = %d, want 107", w.Watermark())
	}
}

func TestPoll_NoReplay(t *testing.T) {
	feed := newestFirst(issueEvent(100, 1, "a"), issueEvent(101, 2, "a"))
	src := NewMockSource(feed[1:]...)
	w := newTestWatcher(t, src, "")
	if err := w.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	src.SetEvents(feed...)
	first, err := w.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(first) != 1 || first[0].ID != 101 {
		t.Fatalf("first poll = %v, want [101]", ids(first))
	}

	second, err := w.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second poll replayed %v", ids(second))
	}
}

func TestPoll_StopsAtFirstKnownEvent(t *testing.T) {
	src := NewMockSource(issueEvent(50, 1, "a"))
	w := newTestWatcher(t, src, "")
	if err := w.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	// 40 is below the watermark and must not be returned even though it
	// appears after a known event.
	src.SetEvents(issueEvent(60, 2, "a"), issueEvent(50, 1, "a"), issueEvent(40, 3, "a"))
	got, err := w.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if want := []int64{60}; !equalIDs(ids(got), want) {
		t.Errorf("ids = %v, want %v", ids(got), want)
	}
}

func TestPoll_WatermarkNeverDecreases(t *testing.T) {
	src := NewMockSource(issueEvent(200, 1, "a"))
	w := newTestWatcher(t, src, "")
	if err := w.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	src.SetEvents(issueEvent(150, 1, "a"))
	got, err := w.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want nothing", ids(got))
	}
	if w.Watermark() != 200 {
		t.Errorf("watermark = %d, want 200", w.Watermark())
	}
}

func TestPoll_FiltersOwnEvents(t *testing.T) {
	src := NewMockSource()
	w := newTestWatcher(t, src, "relay-bot")
	if err := w.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	src.SetEvents(newestFirst(
		issueEvent(1, 1, "alice"),
		issueEvent(2, 1, "Relay-Bot"),
		issueEvent(3, 1, "bob"),
	)...)
	got, err := w.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if want := []int64{1, 3}; !equalIDs(ids(got), want) {
		t.Errorf("ids = %v, want %v", ids(got), want)
	}
	// Own events still advance the watermark.
	if w.Watermark() != 3 {
		t.Errorf("watermark = %d, want 3", w.Watermark())
	}
}

func TestPoll_OnlyOwnEventsAdvanceWatermark(t *testing.T) {
	src := NewMockSource()
	w := newTestWatcher(t, src, "relay-bot")
	if err := w.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	src.SetEvents(issueEvent(9, 1, "relay-bot"))
	got, err := w.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want nothing", ids(got))
	}
	if w.Watermark() != 9 {
		t.Errorf("watermark = %d, want 9", w.Watermark())
	}
}

func TestPoll_ErrorLeavesWatermark(t *testing.T) {
	src := NewMockSource(issueEvent(10, 1, "a"))
	w := newTestWatcher(t, src, "")
	if err := w.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	src.SetListError(errors.New("502 bad gateway"))
	if _, err := w.Poll(context.Background()); err == nil {
		t.Fatal("expected poll error")
	}
	if w.Watermark() != 10 {
		t.Errorf("watermark = %d, want 10", w.Watermark())
	}
	if _, lastErr := w.LastPoll(); lastErr == nil {
		t.Error("LastPoll should report the error")
	}

	src.SetListError(nil)
	src.SetEvents(issueEvent(11, 1, "a"), issueEvent(10, 1, "a"))
	got, err := w.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if want := []int64{11}; !equalIDs(ids(got), want) {
		t.Errorf("ids = %v, want %v", ids(got), want)
	}
	if _, lastErr := w.LastPoll(); lastErr != nil {
		t.Errorf("LastPoll error = %v, want nil after recovery", lastErr)
	}
}

func TestPoll_UnseededSeedsInstead(t *testing.T) {
	src := NewMockSource()
	src.SetListError(errors.New("down"))
	w := newTestWatcher(t, src, "")
	if err := w.Seed(context.Background()); err == nil {
		t.Fatal("expected seed error")
	}

	src.SetListError(nil)
	src.SetEvents(issueEvent(30, 1, "a"), issueEvent(29, 1, "a"))
	got, err := w.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("first poll after failed seed dispatched %v", ids(got))
	}
	if !w.Seeded() || w.Watermark() != 30 {
		t.Errorf("seeded=%v watermark=%d, want true/30", w.Seeded(), w.Watermark())
	}
}

// --- Cycle tests ---

func TestCycle_DispatchesInOrder(t *testing.T) {
	src := NewMockSource()
	w := newTestWatcher(t, src, "")
	if err := w.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	src.SetEvents(newestFirst(issueEvent(1, 1, "a"), issueEvent(2, 1, "a"), issueEvent(3, 1, "a"))...)

	var seen []int64
	result := w.Cycle(context.Background(), func(ctx context.Context, e Event) Outcome {
		seen = append(seen, e.ID)
		return Outcome{EventID: e.ID, Status: OutcomeDelivered}
	})
	if result.Err != nil {
		t.Fatalf("cycle error: %v", result.Err)
	}
	if want := []int64{1, 2, 3}; !equalIDs(seen, want) {
		t.Errorf("dispatched %v, want %v", seen, want)
	}
	if result.Fetched != 3 || result.Count(OutcomeDelivered) != 3 {
		t.Errorf("fetched=%d delivered=%d, want 3/3", result.Fetched, result.Count(OutcomeDelivered))
	}
	if result.Watermark != 3 {
		t.Errorf("watermark = %d, want 3", result.Watermark)
	}
}

func TestCycle_FetchedExcludesOwnEvents(t *testing.T) {
	src := NewMockSource()
	w := newTestWatcher(t, src, "relay-bot")
	if err := w.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	src.SetEvents(newestFirst(issueEvent(1, 1, "a"), issueEvent(2, 1, "relay-bot"), issueEvent(3, 1, "b"))...)

	result := w.Cycle(context.Background(), func(ctx context.Context, e Event) Outcome {
		return Outcome{EventID: e.ID, Status: OutcomeDelivered}
	})
	if result.Fetched != 2 || len(result.Outcomes) != 2 {
		t.Errorf("fetched=%d outcomes=%d, want 2/2", result.Fetched, len(result.Outcomes))
	}
	if result.Watermark != 3 {
		t.Errorf("watermark = %d, want 3", result.Watermark)
	}
}

func TestCycle_FailureDoesNotStopOthers(t *testing.T) {
	src := NewMockSource()
	w := newTestWatcher(t, src, "")
	if err := w.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	src.SetEvents(newestFirst(issueEvent(1, 1, "a"), issueEvent(2, 1, "a"), issueEvent(3, 1, "a"))...)

	result := w.Cycle(context.Background(), func(ctx context.Context, e Event) Outcome {
		switch e.ID {
		case 1:
			panic("boom")
		case 2:
			return Outcome{EventID: e.ID, Status: OutcomeFailed, Err: errors.New("send failed")}
		}
		return Outcome{EventID: e.ID, Status: OutcomeDelivered}
	})
	if len(result.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(result.Outcomes))
	}
	if result.Outcomes[0].Status != OutcomeFailed || result.Outcomes[0].Err == nil {
		t.Errorf("panicking dispatch outcome = %+v, want failed with error", result.Outcomes[0])
	}
	if result.Count(OutcomeFailed) != 2 || result.Count(OutcomeDelivered) != 1 {
		t.Errorf("failed=%d delivered=%d, want 2/1", result.Count(OutcomeFailed), result.Count(OutcomeDelivered))
	}
	// Failed events are not retried.
	if w.Watermark() != 3 {
		t.Errorf("watermark = %d, want 3", w.Watermark())
	}
}

func TestCycle_FetchError(t *testing.T) {
	src := NewMockSource()
	w := newTestWatcher(t, src, "")
	if err := w.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	src.SetListError(errors.New("timeout"))

	called := false
	result := w.Cycle(context.Background(), func(ctx context.Context, e Event) Outcome {
		called = true
		return Outcome{}
	})
	if result.Err == nil {
		t.Fatal("expected cycle error")
	}
	if called {
		t.Error("dispatch must not run when the fetch fails")
	}
}

// --- Run tests ---

func TestRun_PollsUntilCancelled(t *testing.T) {
	src := NewMockSource()
	w, err := NewWatcher(WatcherOpts{Source: src, PollInterval: 10 * time.Millisecond, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	src.SetEvents(issueEvent(5, 1, "a"))

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var dispatched []int64
	cycles := make(chan CycleResult, 100)

	done := make(chan struct{})
	go func() {
		w.Run(ctx, func(ctx context.Context, e Event) Outcome {
			mu.Lock()
			dispatched = append(dispatched, e.ID)
			mu.Unlock()
			return Outcome{EventID: e.ID, Status: OutcomeDelivered}
		}, func(r CycleResult) { cycles <- r })
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-cycles:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for cycle")
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if want := []int64{5}; !equalIDs(dispatched, want) {
		t.Errorf("dispatched %v, want %v", dispatched, want)
	}
}
