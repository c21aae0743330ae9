// Package dashboard serves the relay's status API over HTTP.
package dashboard

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zulandar/issuerelay/internal/journal"
	"github.com/zulandar/issuerelay/internal/models"
	"github.com/zulandar/issuerelay/internal/telegraph"
)

// StatusProvider reports the live relay state.
type StatusProvider interface {
	Status() telegraph.Status
}

// DeliveryLister reads the delivery journal.
type DeliveryLister interface {
	List(ctx context.Context, f journal.Filter) ([]models.Delivery, error)
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Status     StatusProvider
	Deliveries DeliveryLister // nil when the journal is disabled
	Port       int
	Log        zerolog.Logger
	// StreamInterval is how often /api/events checks for status changes.
	StreamInterval time.Duration
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Status == nil {
		return fmt.Errorf("dashboard: status provider is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", opts.Port))
	if err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return serve(ctx, ln, opts)
}

func serve(ctx context.Context, ln net.Listener, opts StartOpts) error {
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Handler:           newRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	opts.Log.Info().Str("addr", ln.Addr().String()).Msg("dashboard listening")

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// newRouter builds the Gin engine with all routes registered.
func newRouter(opts StartOpts) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router
}
