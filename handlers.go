package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

// Server exposes the edge's own endpoints and hands everything else to the router.
type Server struct {
	echo      *echo.Echo
	engine    *Engine
	lifecycle *Lifecycle
	store     CacheStore
	router    *Router
	lookups   *LookupLog // nil disables lookup recording
}

func NewServer(engine *Engine, lifecycle *Lifecycle, store CacheStore, router *Router, lookups *LookupLog) *Server {
	s := &Server{
		echo:      echo.New(),
		engine:    engine,
		lifecycle: lifecycle,
		store:     store,
		router:    router,
		lookups:   lookups,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	// Middleware
	s.echo.Use(requestLogger())
	s.echo.Use(middleware.Recover())

	// Edge endpoints
	edge := s.echo.Group("/_edge")
	edge.GET("/health", s.handleHealth)
	edge.GET("/query", s.handleQuery)
	edge.POST("/query", s.handleQuery)

	// Admin endpoints
	admin := edge.Group("/admin")
	admin.POST("/reload", s.handleReload)
	admin.POST("/install", s.handleInstall)
	admin.POST("/activate", s.handleActivate)
	admin.GET("/cache-info", s.handleCacheInfo)
	admin.GET("/lookups", s.handleLookups)

	// Everything else goes through the request router
	s.echo.Any("/*", echo.WrapHandler(router))

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until the server is shut down.
func (s *Server) Start(addr string) error { return s.echo.Start(addr) }

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"timestamp":  time.Now(),
		"engine":     s.engine.Readiness().String(),
		"generation": s.lifecycle.Active(),
	})
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest

	// Bind request (works for both POST form/JSON and GET query params)
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	// A blank msg gets the same guidance as any other unmatched query
	resp := s.engine.Respond(req.Msg)

	if s.lookups != nil {
		keyword, outcome := lookupOutcome(req.Msg, resp)
		if keyword != "" {
			if err := s.lookups.Record(c.Request().Context(), keyword, outcome); err != nil {
				log.Warn().Err(err).Msg("failed to record lookup")
			}
		}
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReload(c echo.Context) error {
	n := s.engine.Reload(c.Request().Context())
	return c.JSON(http.StatusOK, ReloadResponse{
		Message:    "Offline datasets reloaded",
		Topics:     n,
		ReloadedAt: time.Now(),
	})
}

func (s *Server) handleInstall(c echo.Context) error {
	tag, err := s.lifecycle.Install(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, GenerationResponse{
		Message:    "Cache generation installed",
		Generation: tag,
	})
}

func (s *Server) handleActivate(c echo.Context) error {
	deleted, err := s.lifecycle.Activate(c.Request().Context())
	if errors.Is(err, ErrNoPendingGeneration) {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, GenerationResponse{
		Message:    "Cache generation activated",
		Generation: s.lifecycle.Active(),
		Deleted:    deleted,
	})
}

func (s *Server) handleCacheInfo(c echo.Context) error {
	gens, err := s.store.Generations(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	info := map[string]interface{}{
		"active_generation": s.lifecycle.Active(),
		"generations":       gens,
		"engine":            s.engine.Readiness().String(),
		"topics":            len(s.engine.Topics()),
		"timestamp":         time.Now(),
	}
	if report, loadedAt, ok := s.engine.Report(); ok {
		info["datasets"] = report
		info["loaded_at"] = loadedAt
	}

	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleLookups(c echo.Context) error {
	if s.lookups == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "lookup log disabled"})
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	top, err := s.lookups.Top(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"lookups":   top,
		"timestamp": time.Now(),
	})
}
