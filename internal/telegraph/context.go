package telegraph

import "go.uber.org/atomic"

// RelayContext carries the number of the issue most recently rendered. The
// Renderer (inside the poll cycle) is its only writer; the ReplyHandler reads
// it concurrently and may observe a value one cycle stale.
type RelayContext struct {
	latestIssue *atomic.Int64 // 0 means unknown
}

// NewRelayContext returns a context with no known issue.
func NewRelayContext() *RelayContext {
	return &RelayContext{latestIssue: atomic.NewInt64(0)}
}

// SetLatestIssue records n as the most recently seen issue.
func (c *RelayContext) SetLatestIssue(n int) {
	if n <= 0 {
		return
	}
	c.latestIssue.Store(int64(n))
}

// LatestIssue returns the most recently seen issue number and whether one is known.
func (c *RelayContext) LatestIssue() (int, bool) {
	n := c.latestIssue.Load()
	return int(n), n > 0
}
