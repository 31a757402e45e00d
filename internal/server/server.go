// Package server exposes the pull-notification endpoint and the roster
// administration commands over HTTP.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/daisyzhou/dota-stalker/internal/mailbox"
	"github.com/daisyzhou/dota-stalker/internal/processor"
	"github.com/daisyzhou/dota-stalker/internal/roster"
	"github.com/daisyzhou/dota-stalker/internal/ws"
)

// Server holds the shared state the handlers operate on.
type Server struct {
	mailbox  *mailbox.Mailbox
	roster   *roster.Roster
	resolver processor.NameResolver
	hub      *ws.Hub
	logger   *zap.Logger
}

// NewServer creates the handler state. hub may be nil when the push feed is
// disabled.
func NewServer(mb *mailbox.Mailbox, r *roster.Roster, resolver processor.NameResolver, hub *ws.Hub, logger *zap.Logger) *Server {
	return &Server{
		mailbox:  mb,
		roster:   r,
		resolver: resolver,
		hub:      hub,
		logger:   logger,
	}
}

// NewRouter builds the HTTP routing for the notification server.
func NewRouter(s *Server, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(zapLoggerMiddleware(logger))

	r.Get("/poll", s.handlePoll)
	r.Get("/latest", s.handleLatest)
	r.Get("/addplayer", s.handleAddPlayer)
	r.Get("/removeplayer", s.handleRemovePlayer)
	r.Get("/listplayers", s.handleListPlayers)
	r.Get("/healthz", s.handleHealthz)

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
			)
			next.ServeHTTP(w, r)
		})
	}
}
