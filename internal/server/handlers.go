package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// NoPending is the literal body returned by /poll when the mailbox is
// empty. Polling clients key off it, so it is part of the protocol.
const NoPending = "NONE"

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	text, ok := s.mailbox.Take()
	if !ok {
		respond(w, NoPending)
		return
	}
	respond(w, text)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	text, ok := s.mailbox.Peek()
	if !ok {
		respond(w, NoPending)
		return
	}
	respond(w, text)
}

func (s *Server) handleAddPlayer(w http.ResponseWriter, r *http.Request) {
	id64, ok := parseID64(w, r)
	if !ok {
		return
	}
	s.roster.Add(id64)
	name := s.resolver.Resolve(r.Context(), id64)
	respond(w, fmt.Sprintf("Added player: %s", name))
}

func (s *Server) handleRemovePlayer(w http.ResponseWriter, r *http.Request) {
	id64, ok := parseID64(w, r)
	if !ok {
		return
	}
	name := s.resolver.Resolve(r.Context(), id64)
	s.roster.Remove(id64)
	respond(w, fmt.Sprintf("Removed player: %s", name))
}

func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	ids := s.roster.IDs()
	names := make([]string, 0, len(ids))
	for _, id64 := range ids {
		names = append(names, s.resolver.Resolve(r.Context(), id64))
	}
	respond(w, "Tracked players:\n"+strings.Join(names, "\n"))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respond(w, "ok")
}

func parseID64(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := r.URL.Query().Get("id_64")
	if raw == "" {
		http.Error(w, "missing id_64 parameter", http.StatusBadRequest)
		return 0, false
	}
	id64, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, "invalid id_64 parameter", http.StatusBadRequest)
		return 0, false
	}
	return id64, true
}

func respond(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(text))
}
