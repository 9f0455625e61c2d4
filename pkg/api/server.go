// Package api exposes the summarization pipeline over HTTP and WebSocket:
// meeting lifecycle, segment ingest, audio upload, job inspection, and the
// per-meeting event stream.
package api

import (
	"context"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/open-meetsum/meetsum/pkg/database"
	"github.com/open-meetsum/meetsum/pkg/events"
	"github.com/open-meetsum/meetsum/pkg/inference"
	"github.com/open-meetsum/meetsum/pkg/pipeline"
	"github.com/open-meetsum/meetsum/pkg/queue"
)

// maxUploadBytes bounds the whole request body, audio uploads included.
// Meeting-length recordings compress well under this; anything bigger
// should arrive as live segments instead.
const maxUploadBytes = 100 * 1024 * 1024

// Server is the HTTP API server.
type Server struct {
	echo        *echo.Echo
	httpServer  *http.Server
	service     *pipeline.Service
	dbClient    *database.Client
	workerPool  *queue.WorkerPool
	connManager *events.ConnectionManager
	inference   *inference.Client
}

// NewServer creates a new API server with Echo v5.
func NewServer(
	service *pipeline.Service,
	dbClient *database.Client,
	workerPool *queue.WorkerPool,
	connManager *events.ConnectionManager,
	inferenceClient *inference.Client,
) *Server {
	e := echo.New()

	s := &Server{
		echo:        e,
		service:     service,
		dbClient:    dbClient,
		workerPool:  workerPool,
		connManager: connManager,
		inference:   inferenceClient,
	}

	s.setupRoutes()
	return s
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(maxUploadBytes))
	s.echo.Use(securityHeaders())

	s.echo.GET("/healthz", s.healthHandler)

	s.echo.POST("/meetings", s.createMeetingHandler)
	s.echo.GET("/meetings/:id/summary", s.getSummaryHandler)
	s.echo.POST("/meetings/:id/finalize", s.finalizeMeetingHandler)
	s.echo.GET("/meetings/:id/stream", s.wsHandler)

	s.echo.POST("/ingest/segment", s.appendSegmentHandler)
	s.echo.POST("/process-audio", s.processAudioHandler)

	s.echo.GET("/jobs", s.listJobsHandler)
	s.echo.GET("/jobs/:id", s.getJobHandler)
	s.echo.GET("/stats", s.statsHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
