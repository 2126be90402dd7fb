// Package server exposes the streaming control HTTP API.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/glowf1sh/glowboxremote/internal/adaptive"
	"github.com/glowf1sh/glowboxremote/internal/history"
	"github.com/glowf1sh/glowboxremote/internal/middleware"
	"github.com/glowf1sh/glowboxremote/internal/pipeline"
)

// PipelineService is the slice of the session manager the API drives.
type PipelineService interface {
	Configure(transport pipeline.TransportConfig, video *pipeline.VideoConfig, audio *pipeline.AudioConfig) error
	Start() error
	Stop() error
	Status() pipeline.Status
	Stats() pipeline.TransportStats
}

// AdaptiveService is the slice of the adaptive controller the API drives.
type AdaptiveService interface {
	Start() error
	Stop()
	GetState() adaptive.State
	UpdateConfig(adaptive.Config) error
}

// HistorySource serves the adjustment log queries.
type HistorySource interface {
	Recent(limit int) ([]history.Entry, error)
}

// Options wires the server to its collaborators. Pipeline is required;
// Adaptive and History degrade their routes to 503 when absent.
type Options struct {
	Logger   hclog.Logger
	Pipeline PipelineService
	Adaptive AdaptiveService
	History  HistorySource
}

// Server is the HTTP control surface.
type Server struct {
	logger   hclog.Logger
	pipeline PipelineService
	adaptive AdaptiveService
	history  HistorySource
	hub      *Hub

	httpSrv *http.Server
}

// New creates the server and its websocket hub.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	logger := opts.Logger.Named("server")
	return &Server{
		logger:   logger,
		pipeline: opts.Pipeline,
		adaptive: opts.Adaptive,
		history:  opts.History,
		hub:      NewHub(logger),
	}
}

// Hub returns the websocket hub so the adaptive controller's state
// callback can feed it.
func (s *Server) Hub() *Hub { return s.hub }

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.ErrorLogger(s.logger))

	// CORS for the local web UI
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	s.setupRoutes(r)
	return r
}

// Run serves the API until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, host string, port int) error {
	s.httpSrv = &http.Server{
		Addr:              net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.hub.Close()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return <-errCh
}
