// Package api serves the two issuance endpoints: room creation with a
// teacher ticket, and capability tokens for the realtime layer.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typingblocks/go/internal/typing/realtime"
	"github.com/mcdev12/typingblocks/go/internal/typing/roomcode"
	"github.com/mcdev12/typingblocks/go/internal/typing/ticket"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const requestTimeout = 10 * time.Second

// Config holds the secrets and lifetimes the endpoints need. Empty secrets
// are allowed at startup; the affected endpoints answer 500 until set.
type Config struct {
	SigningSecret  string
	TokenSecret    string
	TicketTTL      time.Duration
	TokenTTL       time.Duration
	AllowedOrigins []string
	Clock          clockwork.Clock
}

// Server bundles the router and the issuers.
type Server struct {
	r        *chi.Mux
	tickets  *ticket.Issuer
	tokens   *realtime.TokenIssuer
	origins  []string
	newCode  func() string
	clientID func(roomCode string) string
}

// NewServer builds the router. Only the /api group carries the request
// timeout; routes added later through Router (the websocket gateway) do not.
func NewServer(cfg Config) *Server {
	s := &Server{
		r:        chi.NewRouter(),
		origins:  cfg.AllowedOrigins,
		newCode:  func() string { return roomcode.Generate(roomcode.Length) },
		clientID: newTeacherClientID,
	}
	if cfg.SigningSecret != "" {
		s.tickets = ticket.NewIssuer(cfg.SigningSecret, cfg.TicketTTL, cfg.Clock)
	}
	if cfg.TokenSecret != "" {
		s.tokens = realtime.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL, cfg.Clock)
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}

	s.r.Use(chimw.RequestID)
	s.r.Use(chimw.RealIP)
	s.r.Use(chimw.Recoverer)

	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	s.r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))
		r.Post("/api/typing/rooms", s.handleCreateRoom)
		r.Post("/api/realtime/token", s.handleToken)
	})

	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found: "+r.URL.Path)
	})

	return s
}

// TokenIssuer exposes the issuer so the gateway can verify what this
// server signs. It is nil when no token secret is configured.
func (s *Server) TokenIssuer() *realtime.TokenIssuer { return s.tokens }

// Router exposes the root router for extra routes and tests.
func (s *Server) Router() chi.Router { return s.r }

// Handler wraps the router with CORS and h2c.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: s.origins,
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return h2c.NewHandler(c.Handler(s.r), &http2.Server{})
}

// HTTPServer returns a server listening on port.
func (s *Server) HTTPServer(port string) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
