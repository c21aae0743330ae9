package telegraph

import "time"

// OutcomeStatus classifies how a single event was handled.
type OutcomeStatus string

const (
	OutcomeDelivered      OutcomeStatus = "delivered"       // sent in rich format
	OutcomeDeliveredPlain OutcomeStatus = "delivered_plain" // rich send failed, plain retry succeeded
	OutcomeSkipped        OutcomeStatus = "skipped"         // no message by design
	OutcomeFailed         OutcomeStatus = "failed"          // render or delivery failed; event dropped
)

// Outcome is the per-event result of a dispatch. A failed outcome never
// stops the remaining events of the cycle.
type Outcome struct {
	EventID   int64
	EventType EventType
	Status    OutcomeStatus
	Text      string // rendered text, if any
	Err       error
}

// CycleResult is the result of one poll cycle. Err is set when the feed
// could not be fetched; the watermark is then left untouched.
type CycleResult struct {
	At        time.Time
	Fetched   int // events dispatched: newer than the previous watermark, own events excluded
	Watermark int64
	Outcomes  []Outcome
	Err       error
}

// Count returns how many outcomes in the cycle have status s.
func (r CycleResult) Count(s OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}
