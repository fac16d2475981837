package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/choraleia/leadagent/pkg/config"
	"github.com/choraleia/leadagent/pkg/event"
	"github.com/choraleia/leadagent/pkg/handler"
	"github.com/choraleia/leadagent/pkg/models"
	"github.com/choraleia/leadagent/pkg/service"
	"github.com/choraleia/leadagent/pkg/utils"
)

// Services are the application components the HTTP layer exposes.
type Services struct {
	Agent     *service.AgentService
	Knowledge *service.KnowledgeService
	Emitter   *event.Emitter
	Runtime   models.RuntimeInfo
}

type Server struct {
	ginEngine *gin.Engine
	cfg       *config.AppConfig
	services  Services
	logger    *slog.Logger
	port      int
	stopped   chan struct{}
}

func NewServer(cfg *config.AppConfig, services Services) *Server {
	gin.SetMode(gin.ReleaseMode)
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	server := &Server{
		ginEngine: ginEngine,
		cfg:       cfg,
		services:  services,
		logger:    utils.GetLogger(),
		port:      cfg.Port(),
		stopped:   make(chan struct{}),
	}

	ginEngine.Use(server.requestLogger())
	ginEngine.Use(server.cors())

	// Serve the built frontend from disk when configured.
	attachStatic(ginEngine, cfg.Frontend.DistDir)

	server.SetupRoutes()
	return server
}

// originAllowed reports whether a browser origin may call the API.
func (s *Server) originAllowed(origin string) bool {
	if s.cfg.CORSAllowAll() {
		return true
	}
	for _, o := range s.cfg.Server.CORSOrigins {
		if o == "*" || strings.EqualFold(strings.TrimSuffix(o, "/"), origin) {
			return true
		}
	}
	return false
}

// checkOrigin is the websocket counterpart of the CORS middleware.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	// Same-origin pages (the bundled frontend) are always allowed.
	if strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://"), r.Host) {
		return true
	}
	return s.originAllowed(origin)
}

// cors allows either the configured origin list or, in development, every origin.
func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// If there's no Origin header, it's not a browser CORS request.
		if origin != "" {
			if !s.originAllowed(origin) {
				s.logger.Warn("Rejected cross-origin request", "origin", origin, "path", c.Request.URL.Path)
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"elapsed", time.Since(start),
			"clientIP", c.ClientIP(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Error("HTTP request", attrs...)
		case status >= http.StatusBadRequest:
			s.logger.Warn("HTTP request", attrs...)
		default:
			s.logger.Debug("HTTP request", attrs...)
		}
	}
}

func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.ginEngine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Attempt to listen on port first; if occupied return error immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	// Record the actual port (useful when port 0 is configured).
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	// Listen for context cancellation for graceful shutdown
	go func() {
		defer close(s.stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP server shutdown", "error", err)
		}
	}()

	// Non-blocking: if startup fails immediately return error; otherwise return nil to let main continue
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}

// Wait blocks until a started server has shut down.
func (s *Server) Wait() {
	<-s.stopped
}

func (s *Server) SetupRoutes() {
	sessionHandler := handler.NewSessionHandler(s.services.Agent, s.services.Knowledge, s.logger)
	realtimeHandler := handler.NewRealtimeHandler(s.services.Agent, s.logger, s.checkOrigin)
	eventsHandler := event.NewWSHandler(s.services.Emitter, s.checkOrigin)

	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	s.ginEngine.GET("/health", health)

	// Realtime channel
	// /ws/:session_id
	s.ginEngine.GET("/ws/:session_id", realtimeHandler.Handle)

	// Routes are served at the root for the frontend and mirrored under /api.
	sessionHandler.RegisterRoutes(s.ginEngine)

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")
	sessionHandler.RegisterRoutes(apiGroup)
	apiGroup.GET("/health", health)
	apiGroup.GET("/ws/:session_id", realtimeHandler.Handle)

	// Session event stream for dashboards
	// /api/events/ws
	apiGroup.GET("/events/ws", eventsHandler.Handle)

	// Runtime info so the frontend can discover base URLs and enabled features.
	apiGroup.GET("/runtime", func(c *gin.Context) {
		host := s.cfg.Host()
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		info := s.services.Runtime
		info.Port = s.port
		info.HTTPBaseURL = fmt.Sprintf("http://%s:%d", host, s.port)
		info.WSBaseURL = fmt.Sprintf("ws://%s:%d", host, s.port)
		c.JSON(http.StatusOK, info)
	})

	s.ginEngine.NoRoute(func(c *gin.Context) {
		serveIndexFallback(c, s.cfg.Frontend.DistDir)
		if c.IsAborted() {
			return
		}
		c.JSON(http.StatusNotFound, models.ErrorResponse{Type: models.ResponseTypeError, Code: "NOT_FOUND", Message: "route not found"})
	})
}
