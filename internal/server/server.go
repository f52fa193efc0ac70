// Package server exposes the orchestration core over HTTP: REST
// endpoints for tasks, agents, and stats, plus websocket event streams
// and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dispatchd/internal/registry"
	"dispatchd/internal/taskmgr"
	"dispatchd/pkg/models"
)

// Config holds HTTP server settings.
type Config struct {
	// Listen is the bind address, e.g. ":8400".
	Listen string
	// Debug keeps gin in debug mode; release mode otherwise.
	Debug bool
}

// Server wires the task manager and registry to HTTP.
type Server struct {
	mgr    *taskmgr.Manager
	reg    *registry.Registry
	hub    *Hub
	engine *gin.Engine
	http   *http.Server
}

// New builds the server and its routes. The hub must be fed by the
// caller (see Hub.Run) from the manager's event channel.
func New(mgr *taskmgr.Manager, reg *registry.Registry, hub *Hub, cfg Config) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		mgr:    mgr,
		reg:    reg,
		hub:    hub,
		engine: engine,
		http: &http.Server{
			Addr:        cfg.Listen,
			Handler:     engine,
			ReadTimeout: 30 * time.Second,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")
	{
		v1.POST("/tasks", s.handleCreateTask)
		v1.GET("/tasks/:id", s.handleGetTask)
		v1.DELETE("/tasks/:id", s.handleCancelTask)
		v1.GET("/tasks/:id/events", s.handleTaskEvents)
		v1.GET("/events", s.handleAllEvents)
		v1.GET("/stats", s.handleStats)

		v1.POST("/agents", s.handleRegisterAgent)
		v1.GET("/agents", s.handleListAgents)
		v1.DELETE("/agents/:id", s.handleDeregisterAgent)
		v1.GET("/registry/stats", s.handleRegistryStats)
	}
}

// ListenAndServe runs the HTTP server until Shutdown.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req taskmgr.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	id, err := s.mgr.CreateTask(req)
	if err != nil {
		switch {
		case errors.Is(err, taskmgr.ErrValidation), errors.Is(err, taskmgr.ErrCycle):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, taskmgr.ErrLaneFull):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		case errors.Is(err, taskmgr.ErrManagerClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task_id": id})
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.mgr.GetTask(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleCancelTask(c *gin.Context) {
	err := s.mgr.Cancel(c.Param("id"))
	if err != nil {
		if errors.Is(err, taskmgr.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.mgr.ManagerStats())
}

func (s *Server) handleRegisterAgent(c *gin.Context) {
	var d models.AgentDescriptor
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if d.ID == "" || d.Endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent id and endpoint are required"})
		return
	}
	s.reg.Register(d)
	c.JSON(http.StatusCreated, gin.H{"agent_id": d.ID})
}

func (s *Server) handleListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.reg.All()})
}

func (s *Server) handleDeregisterAgent(c *gin.Context) {
	s.reg.Deregister(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"status": "deregistered"})
}

func (s *Server) handleRegistryStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.reg.Stats())
}
