package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stockgame/internal/config"
	"stockgame/internal/game"
	"stockgame/internal/session"
	"stockgame/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

type Server struct {
	cfg      config.RelayConfig
	log      *slog.Logger
	rooms    *session.Manager
	store    store.Store
	rules    *game.Rules
	upgrader websocket.Upgrader
	mux      *chi.Mux
}

func New(cfg config.RelayConfig, logger *slog.Logger, rooms *session.Manager, st store.Store, rules *game.Rules) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 64
	}
	s := &Server{
		cfg:   cfg,
		log:   logger,
		rooms: rooms,
		store: st,
		rules: rules,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		mux: chi.NewRouter(),
	}
	if cfg.AllowAnyOrigin {
		s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	// Long-lived; kept outside the request timeout.
	r.Get("/ws", s.handleWS)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/rules", s.handleRules)
		r.Get("/rooms", s.handleRoomsList)
		r.Post("/rooms", s.handleRoomCreate)
		r.Get("/rooms/{code}/state", s.handleRoomState)
		r.Get("/rooms/{code}/roster", s.handleRoomRoster)
		r.Get("/players/{name}", s.handlePlayer)
		r.Get("/leaderboard", s.handleLeaderboard)
	})
}

func (s *Server) handleRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.rules)
}

func (s *Server) handleRoomsList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": s.rooms.ListRooms()})
}

func (s *Server) handleRoomCreate(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]any{"code": s.rooms.CreateRoom()})
}

func (s *Server) handleRoomState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": snap.Code, "state": snap.State})
}

func (s *Server) handleRoomRoster(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room":        snap.Code,
		"connections": snap.Conns,
		"players":     snap.Roster,
		"top":         snap.Top,
	})
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Load(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := s.rules.LeaderboardSize
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	rows, err := s.store.Leaderboard(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) snapshot(ctx context.Context, code string) (session.Snapshot, error) {
	sess, ok := s.rooms.Get(code)
	if !ok {
		return session.Snapshot{}, session.ErrRoomNotFound
	}
	return sess.Snapshot(ctx)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidName), errors.Is(err, session.ErrInvalidRoom):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}
