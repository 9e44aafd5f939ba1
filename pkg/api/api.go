// Package api exposes the Workflow Executor's client-facing surface
// (submit/wait/status/cancel/events) over HTTP, using gin the way a
// control-plane node in this stack would front its internal RPCs for
// external callers. The mesh-internal RPCs (dispatch, fetch_object,
// gossip) stay on the hand-rolled grpc+JSON codec in pkg/peer; gin
// fronts only the surface a human or a CLI talks to.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/lattice-run/lattice/pkg/executor"
	"github.com/lattice-run/lattice/pkg/log"
	"github.com/lattice-run/lattice/pkg/metrics"
	"github.com/lattice-run/lattice/pkg/types"
)

// Executor is the subset of *executor.Executor the API needs, narrowed
// for testability.
type Executor interface {
	Submit(graph []types.Task, functions map[string]*types.FunctionSpec, inputs map[string]executor.EncodedObject) (string, error)
	Wait(ctx context.Context, workflowID string) (types.ObjectRef, error)
	Status(workflowID string) (types.WorkflowInstance, error)
	Cancel(workflowID string) error
	Events(ctx context.Context, workflowID string) (<-chan *types.Event, error)
}

// ObjectResolver looks up a finished workflow's output object, used by
// GET /v1/workflows/:id/output to return the payload bytes instead of
// a bare ObjectRef.
type ObjectResolver interface {
	Resolve(ctx context.Context, ref types.ObjectRef) (*types.Object, error)
}

// Server wraps a gin.Engine serving the client API.
type Server struct {
	exec     Executor
	resolver ObjectResolver
	engine   *gin.Engine
	http     *http.Server
	logger   zerolog.Logger
}

// NewServer builds a Server. It runs gin in release mode regardless of
// build tags so request logging always goes through pkg/log instead of
// gin's default writer.
func NewServer(exec Executor, resolver ObjectResolver) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	s := &Server{
		exec:     exec,
		resolver: resolver,
		engine:   engine,
		logger:   log.WithComponent("api"),
	}

	engine.Use(gin.Recovery(), s.metricsMiddleware())

	v1 := engine.Group("/v1")
	{
		v1.POST("/workflows", s.handleSubmit)
		v1.GET("/workflows/:id", s.handleStatus)
		v1.GET("/workflows/:id/wait", s.handleWait)
		v1.GET("/workflows/:id/output", s.handleOutput)
		v1.POST("/workflows/:id/cancel", s.handleCancel)
		v1.GET("/workflows/:id/events", s.handleEvents)
	}

	return s
}

// Serve starts the HTTP server at addr; it blocks until Shutdown is
// called or the listener fails.
func (s *Server) Serve(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}
	s.logger.Info().Str("addr", addr).Msg("client api listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := fmt.Sprintf("%d", c.Writer.Status())
		metrics.APIRequestsTotal.WithLabelValues(c.FullPath(), status).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.FullPath()).Observe(time.Since(start).Seconds())
	}
}
