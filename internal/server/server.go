// Package server provides the gripctl status API: health, loop status, the
// dispatch journal and a live event feed.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ayusman/gripctl/internal/app"
	"github.com/ayusman/gripctl/internal/gesture"
	"github.com/ayusman/gripctl/internal/store"
)

// DefaultListLimit caps journal listings when no limit is given.
const DefaultListLimit = 100

// StatusProvider reports the control loop's current state.
type StatusProvider interface {
	Status() app.Status
}

// TemplateRecorder records templates from the live hand and keeps the
// running classifier in step with the journal.
type TemplateRecorder interface {
	RecordTemplate(g gesture.Gesture, tolerance float64) (*store.Template, error)
	ReloadTemplates() error
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Status    StatusProvider
	Templates TemplateRecorder
}

// TemplateRequest is the body of POST /api/templates.
type TemplateRequest struct {
	Gesture   string  `json:"gesture" binding:"required"`
	Tolerance float64 `json:"tolerance"`
}

// Response is the envelope for every API reply.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Server is the HTTP front end. It is an http.Handler.
type Server struct {
	config Config
	engine *gin.Engine
	hub    *Hub
	start  time.Time
}

// New creates a Server with the given configuration.
func New(config Config) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Length", "Content-Type"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))
	engine.HandleMethodNotAllowed = true

	s := &Server{
		config: config,
		engine: engine,
		hub:    NewHub(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/live", s.handleLive)

		if s.config.Status != nil {
			api.GET("/status", s.handleStatus)
		}

		if s.config.Store != nil {
			api.GET("/sessions", s.handleSessions)
			api.GET("/sessions/:id", s.handleSession)
			api.GET("/sessions/:id/dispatches", s.handleSessionDispatches)
			api.GET("/dispatches", s.handleRecentDispatches)
			api.GET("/templates", s.handleTemplates)
			api.DELETE("/templates/:id", s.handleDeleteTemplate)
			if s.config.Templates != nil {
				api.POST("/templates", s.handleRecordTemplate)
			}
		}
	}

	if s.config.StaticDir != "" {
		s.engine.NoRoute(gin.WrapH(http.FileServer(http.Dir(s.config.StaticDir))))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Hub returns the live feed hub. Publish loop events to it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Serve listens on addr until ctx is done, then disconnects live clients
// and shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// Close disconnects live feed clients.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Status: "ok",
		Data: gin.H{
			"uptime": time.Since(s.start).String(),
		},
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Status: "ok", Data: s.config.Status.Status()})
}

func (s *Server) handleSessions(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	sessions, err := s.config.Store.Sessions().List(limit)
	if err != nil {
		internalError(c, err)
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	c.JSON(http.StatusOK, Response{Status: "ok", Data: sessions})
}

func (s *Server) handleSession(c *gin.Context) {
	sess, err := s.config.Store.Sessions().GetByID(c.Param("id"))
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Status: "ok", Data: sess})
}

func (s *Server) handleSessionDispatches(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.config.Store.Sessions().GetByID(id); err != nil {
		storeError(c, err)
		return
	}

	dispatches, err := s.config.Store.Dispatches().ListBySession(id)
	if err != nil {
		internalError(c, err)
		return
	}
	if dispatches == nil {
		dispatches = []*store.Dispatch{}
	}
	c.JSON(http.StatusOK, Response{Status: "ok", Data: dispatches})
}

func (s *Server) handleRecentDispatches(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	dispatches, err := s.config.Store.Dispatches().Recent(limit)
	if err != nil {
		internalError(c, err)
		return
	}
	if dispatches == nil {
		dispatches = []*store.Dispatch{}
	}
	c.JSON(http.StatusOK, Response{Status: "ok", Data: dispatches})
}

func (s *Server) handleTemplates(c *gin.Context) {
	templates, err := s.config.Store.Templates().List()
	if err != nil {
		internalError(c, err)
		return
	}
	if templates == nil {
		templates = []*store.Template{}
	}
	c.JSON(http.StatusOK, Response{Status: "ok", Data: templates})
}

// handleRecordTemplate saves the hand the loop sees right now as a template.
func (s *Server) handleRecordTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Status: "error", Error: "invalid template request: " + err.Error()})
		return
	}
	g := gesture.Gesture(strings.ToUpper(req.Gesture))
	if !g.Actionable() {
		c.JSON(http.StatusBadRequest, Response{Status: "error", Error: "gesture must be OPEN or FIST"})
		return
	}
	if req.Tolerance < 0 {
		c.JSON(http.StatusBadRequest, Response{Status: "error", Error: "tolerance must not be negative"})
		return
	}

	t, err := s.config.Templates.RecordTemplate(g, req.Tolerance)
	switch {
	case errors.Is(err, app.ErrNoHand):
		c.JSON(http.StatusConflict, Response{Status: "error", Error: err.Error()})
		return
	case err != nil && t == nil:
		internalError(c, err)
		return
	case err != nil:
		log.Printf("Template %s saved but classifier not reloaded: %v", t.ID, err)
	}
	c.JSON(http.StatusCreated, Response{Status: "ok", Data: t})
}

func (s *Server) handleDeleteTemplate(c *gin.Context) {
	if err := s.config.Store.Templates().Delete(c.Param("id")); err != nil {
		storeError(c, err)
		return
	}
	if s.config.Templates != nil {
		if err := s.config.Templates.ReloadTemplates(); err != nil {
			log.Printf("Failed to reload templates after delete: %v", err)
		}
	}
	c.Status(http.StatusNoContent)
}

// queryLimit reads ?limit=, writing a 400 and reporting false when it is
// malformed.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return DefaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, Response{Status: "error", Error: "limit must be a positive integer"})
		return 0, false
	}
	return limit, true
}

func storeError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, Response{Status: "error", Error: err.Error()})
		return
	}
	internalError(c, err)
}

func internalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, Response{Status: "error", Error: err.Error()})
}
