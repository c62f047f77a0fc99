package server

import (
	"log/slog"
	"net/http"
	"time"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/nOOne-is-hier/AgentFlow/internal/artifact"
	"github.com/nOOne-is-hier/AgentFlow/internal/engine"
	"github.com/nOOne-is-hier/AgentFlow/internal/stream"
	"github.com/nOOne-is-hier/AgentFlow/internal/workflow"
	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
)

// Server implements the HTTP API for the pipeline service
type Server struct {
	controller *engine.Controller
	workflows  *workflow.Store
	artifacts  *artifact.Store
	hub        *stream.Hub
	logger     *slog.Logger
	poll       time.Duration
}

// NewServer creates a new HTTP API server
func NewServer(
	controller *engine.Controller, workflows *workflow.Store,
	artifacts *artifact.Store, hub *stream.Hub, logger *slog.Logger,
	poll time.Duration,
) *Server {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &Server{
		controller: controller,
		workflows:  workflows,
		artifacts:  artifacts,
		hub:        hub,
		logger:     logger,
		poll:       poll,
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return s.logger
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

	router.GET("/health", s.handleHealth)

	// Uploads
	router.POST("/files/upload", s.uploadFile)
	router.GET("/files", s.listFiles)

	// Composition
	router.POST("/chat/turn", s.chatTurn)

	// Workflow endpoints
	wf := router.Group("/workflows")
	{
		wf.GET("", s.listWorkflows)
		wf.POST("", s.saveWorkflow)
		wf.GET("/:workflowID", s.getWorkflow)
		wf.POST("/quickstart", s.quickstart)
	}

	// Run endpoints
	router.POST("/pipeline/execute", s.executePipeline)
	runs := router.Group("/runs")
	{
		runs.GET("/:runID", s.getRun)
		runs.POST("/:runID/continue", s.continueRun)
		runs.GET("/:runID/events", s.streamEvents)
	}

	// Artifacts
	router.GET("/artifacts/:artifactID", s.downloadArtifact)

	// WebSocket mirror
	router.GET("/ws", s.handleWebSocket)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Service: "agentflow",
		Status:  "ok",
	})
}

func errResponse(c *gin.Context, status int, err error) {
	c.JSON(status, api.ErrorResponse{
		Error:  err.Error(),
		Status: status,
	})
}
