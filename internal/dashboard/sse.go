package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/issuerelay/internal/telegraph"
)

// handleSSE streams a "status" event whenever the relay state changes,
// plus periodic heartbeats.
func handleSSE(status StatusProvider, interval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		last := status.Status()
		writeSSE(c.Writer, "status", last)
		c.Writer.Flush()

		ctx := c.Request.Context()
		ticker := time.NewTicker(interval)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				cur := status.Status()
				if !changed(last, cur) {
					continue
				}
				last = cur
				writeSSE(c.Writer, "status", cur)
				c.Writer.Flush()
			}
		}
	}
}

// changed reports whether anything a watcher of the stream cares about moved.
func changed(a, b telegraph.Status) bool {
	return a.Watermark != b.Watermark ||
		a.Seeded != b.Seeded ||
		a.LatestIssue != b.LatestIssue ||
		a.LastPollError != b.LastPollError ||
		a.Stats != b.Stats
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
