package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/loomworks/loom/internal/engine"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/store"
	"github.com/loomworks/loom/pkg/api"
)

// Server implements the HTTP API for submitting and observing executions
type Server struct {
	engine  *engine.Engine
	store   store.Store
	hub     events.Hub
	sockets map[*Client]struct{}
	mu      sync.Mutex
}

// NewServer creates a new HTTP API server
func NewServer(eng *engine.Engine, st store.Store, hub events.Hub) *Server {
	return &Server{
		engine:  eng,
		store:   st,
		hub:     hub,
		sockets: map[*Client]struct{}{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", s.handleHealth)

	eng := router.Group("/engine")
	{
		// Execution endpoints
		eng.POST("/execution", s.submitExecution)
		eng.GET("/execution", s.listExecutions)
		eng.GET("/execution/:executionID", s.getExecution)
		eng.POST("/execution/:executionID/cancel", s.cancelExecution)

		// Flow definition endpoints
		eng.GET("/flow", s.listFlows)
		eng.POST("/flow", s.registerFlow)
		eng.GET("/flow/:flowID", s.getFlow)

		// Orchestration definition endpoints
		eng.GET("/orchestration", s.listOrchestrations)
		eng.POST("/orchestration", s.registerOrchestration)
		eng.GET("/orchestration/:orchestrationID", s.getOrchestration)

		// WebSocket
		eng.GET("/ws", s.handleWebSocket)
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Service: "loom-engine",
		Status:  "ok",
	})
}

// respondError maps engine and store errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	var ee *api.ExecError
	switch {
	case errors.As(err, &ee) && ee.Kind == api.ErrorValidation:
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrExecutionNotFound),
		errors.Is(err, store.ErrFlowNotFound),
		errors.Is(err, store.ErrOrchestrationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrExecutionExists):
		status = http.StatusConflict
	}

	c.JSON(status, api.ErrorResponse{
		Error:  err.Error(),
		Status: status,
	})
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[c] = struct{}{}
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sockets, c)
}

// CloseWebSockets closes all active WebSocket connections.
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
