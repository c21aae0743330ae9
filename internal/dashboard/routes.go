package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/issuerelay/internal/journal"
	"github.com/zulandar/issuerelay/internal/telegraph"
)

const defaultStreamInterval = 3 * time.Second

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	interval := opts.StreamInterval
	if interval <= 0 {
		interval = defaultStreamInterval
	}

	router.GET("/healthz", handleHealth())
	router.GET("/api/status", handleStatus(opts.Status))
	router.GET("/api/deliveries", handleDeliveries(opts.Deliveries))
	router.GET("/api/events", handleSSE(opts.Status, interval))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleStatus(status StatusProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, status.Status())
	}
}

// deliveryRow is the JSON shape of one journal row.
type deliveryRow struct {
	ID        uint      `json:"id"`
	EventID   int64     `json:"event_id"`
	EventType string    `json:"event_type"`
	Status    string    `json:"status"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

var validStatuses = map[string]bool{
	string(telegraph.OutcomeDelivered):      true,
	string(telegraph.OutcomeDeliveredPlain): true,
	string(telegraph.OutcomeSkipped):        true,
	string(telegraph.OutcomeFailed):         true,
}

func handleDeliveries(lister DeliveryLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		if lister == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal is disabled"})
			return
		}

		filter := journal.Filter{Status: c.Query("status")}
		if filter.Status != "" && !validStatuses[filter.Status] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(filter.Status)})
			return
		}
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			filter.Limit = n
		}

		rows, err := lister.List(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]deliveryRow, len(rows))
		for i, r := range rows {
			out[i] = deliveryRow{
				ID:        r.ID,
				EventID:   r.EventID,
				EventType: r.EventType,
				Status:    r.Status,
				Text:      r.Text,
				Error:     r.Error,
				CreatedAt: r.CreatedAt,
			}
		}
		c.JSON(http.StatusOK, gin.H{"deliveries": out})
	}
}
