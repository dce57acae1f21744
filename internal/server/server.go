// Package server wires stores, handlers and middleware into the HTTP router.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/smartnotes/internal/ai"
	"github.com/dukerupert/smartnotes/internal/database"
	"github.com/dukerupert/smartnotes/internal/handler"
	"github.com/dukerupert/smartnotes/internal/httpx"
	"github.com/dukerupert/smartnotes/internal/metrics"
	"github.com/dukerupert/smartnotes/internal/middleware"
	"github.com/dukerupert/smartnotes/internal/store"
	"github.com/dukerupert/smartnotes/internal/token"
	ws "github.com/dukerupert/smartnotes/internal/websocket"
	"github.com/dukerupert/smartnotes/web"
)

// Options tune the HTTP surface.
type Options struct {
	Production    bool
	AuthRateLimit int // requests per minute per client IP
	TrustProxy    bool
}

type Server struct {
	db      *sql.DB
	codec   *token.Codec
	hub     *ws.Hub
	metrics *metrics.Metrics
	authH   *handler.AuthHandler
	noteH   *handler.NoteHandler
	aiH     *handler.AIHandler
	pageH   *handler.PageHandler
	opts    Options
	logger  *slog.Logger
}

func New(db *sql.DB, codec *token.Codec, assistant ai.Assistant, m *metrics.Metrics, opts Options, logger *slog.Logger) (*Server, error) {
	if opts.AuthRateLimit <= 0 {
		opts.AuthRateLimit = 10
	}
	hub := ws.NewHub(logger.With("component", "websocket"))
	handlerLogger := logger.With("component", "handler")

	authH := handler.NewAuthHandler(store.NewUserStore(db), codec, opts.Production, handlerLogger)
	noteH := handler.NewNoteHandler(store.NewNoteStore(db), hub, handlerLogger)
	pageH, err := handler.NewPageHandler(authH, noteH, handlerLogger)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	return &Server{
		db:      db,
		codec:   codec,
		hub:     hub,
		metrics: m,
		authH:   authH,
		noteH:   noteH,
		aiH:     handler.NewAIHandler(assistant, handlerLogger),
		pageH:   pageH,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Router returns the full handler chain: request logging, security headers,
// the session gate, then per-route metrics around the mux.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	limited := middleware.RateLimitByIP(s.opts.AuthRateLimit, time.Minute, s.opts.TrustProxy)

	// Pages
	mux.HandleFunc("GET /{$}", s.pageH.Landing)
	mux.HandleFunc("GET /login", s.pageH.LoginPage)
	mux.Handle("POST /login", limited(http.HandlerFunc(s.pageH.Login)))
	mux.HandleFunc("GET /signup", s.pageH.SignupPage)
	mux.Handle("POST /signup", limited(http.HandlerFunc(s.pageH.Signup)))
	mux.HandleFunc("POST /logout", s.pageH.Logout)
	mux.HandleFunc("GET /dashboard", s.pageH.Dashboard)
	mux.HandleFunc("GET /notes/new", s.pageH.NewNotePage)
	mux.HandleFunc("POST /notes/new", s.pageH.CreateNote)
	mux.HandleFunc("GET /notes/{id}", s.pageH.ViewNote)
	mux.HandleFunc("POST /notes/{id}", s.pageH.UpdateNote)
	mux.HandleFunc("POST /notes/{id}/delete", s.pageH.DeleteNote)

	// Auth API
	mux.Handle("POST /api/auth/signup", limited(http.HandlerFunc(s.authH.Signup)))
	mux.Handle("POST /api/auth/login", limited(http.HandlerFunc(s.authH.Login)))
	mux.HandleFunc("POST /api/auth/logout", s.authH.Logout)
	mux.HandleFunc("GET /api/auth/me", s.authH.Me)

	// Notes API
	mux.HandleFunc("GET /api/notes", s.noteH.List)
	mux.HandleFunc("POST /api/notes", s.noteH.Create)
	mux.HandleFunc("GET /api/notes/{id}", s.noteH.Get)
	mux.HandleFunc("PUT /api/notes/{id}", s.noteH.Update)
	mux.HandleFunc("DELETE /api/notes/{id}", s.noteH.Delete)

	// Assistant API
	mux.HandleFunc("POST /api/ai/summarize", s.aiH.Summarize)
	mux.HandleFunc("POST /api/ai/tags", s.aiH.Tags)

	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())

	static, _ := fs.Sub(web.Static, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))

	var h http.Handler = s.metrics.Middleware(mux)
	h = middleware.SessionGate(s.codec, s.logger.With("component", "auth"))(h)
	h = middleware.SecureHeaders(s.opts.Production)(h)
	return middleware.RequestLogger(s.logger.With("component", "http"), s.opts.TrustProxy)(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := database.Ping(ctx, s.db); err != nil {
		s.logger.Error("health check failed", "error", err)
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
