package telegraph

import "go.uber.org/atomic"

// Stats counts relay activity since process start.
type Stats struct {
	cycles          atomic.Uint64
	cycleErrors     atomic.Uint64
	delivered       atomic.Uint64
	deliveredPlain  atomic.Uint64
	skipped         atomic.Uint64
	failed          atomic.Uint64
	repliesPosted   atomic.Uint64
	repliesRejected atomic.Uint64
	repliesFailed   atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Cycles          uint64 `json:"cycles"`
	CycleErrors     uint64 `json:"cycle_errors"`
	Delivered       uint64 `json:"delivered"`
	DeliveredPlain  uint64 `json:"delivered_plain"`
	Skipped         uint64 `json:"skipped"`
	Failed          uint64 `json:"failed"`
	RepliesPosted   uint64 `json:"replies_posted"`
	RepliesRejected uint64 `json:"replies_rejected"`
	RepliesFailed   uint64 `json:"replies_failed"`
}

func (s *Stats) observeCycle(r CycleResult) {
	s.cycles.Inc()
	if r.Err != nil {
		s.cycleErrors.Inc()
	}
}

func (s *Stats) observeOutcome(o Outcome) {
	switch o.Status {
	case OutcomeDelivered:
		s.delivered.Inc()
	case OutcomeDeliveredPlain:
		s.deliveredPlain.Inc()
	case OutcomeSkipped:
		s.skipped.Inc()
	case OutcomeFailed:
		s.failed.Inc()
	}
}

func (s *Stats) observeReply(r ReplyResult) {
	switch r.Status {
	case ReplyPosted:
		s.repliesPosted.Inc()
	case ReplyRejected:
		s.repliesRejected.Inc()
	case ReplyFailed:
		s.repliesFailed.Inc()
	}
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Cycles:          s.cycles.Load(),
		CycleErrors:     s.cycleErrors.Load(),
		Delivered:       s.delivered.Load(),
		DeliveredPlain:  s.deliveredPlain.Load(),
		Skipped:         s.skipped.Load(),
		Failed:          s.failed.Load(),
		RepliesPosted:   s.repliesPosted.Load(),
		RepliesRejected: s.repliesRejected.Load(),
		RepliesFailed:   s.repliesFailed.Load(),
	}
}
