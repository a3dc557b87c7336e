package server

// server.go — RPC de administración.
//
// Un único endpoint de mutación: POST /api/autopilot/toggle, protegido por
// bearer token de admin y con rate limiting global. Todos los intentos, con o
// sin éxito, quedan registrados en el monitor de eventos.

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/henrytanbeaver/reapbid/internal/domain"
	"github.com/henrytanbeaver/reapbid/internal/ports"
)

// Config contiene la configuración del servidor de administración.
type Config struct {
	AdminToken string
	RatePerSec float64
	RateBurst  int
}

// Server expone el RPC de administración y el feed de eventos.
type Server struct {
	cfg     Config
	store   ports.GameStore
	monitor ports.Monitor
	events  EventSource
	feed    *Feed
	limiter *rate.Limiter
}

// EventSource lee el histórico reciente del monitor (GET /api/events).
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]domain.Event, error)
}

// New crea el servidor. feed y events pueden ser nil; sus endpoints devuelven
// 404 en ese caso.
func New(cfg Config, store ports.GameStore, monitor ports.Monitor, events EventSource, feed *Feed) *Server {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		monitor: monitor,
		events:  events,
		feed:    feed,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RateBurst),
	}
}

// Handler devuelve el http.Handler con todas las rutas montadas.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/autopilot/toggle", s.handleToggle)
	if s.events != nil {
		mux.HandleFunc("GET /api/events", s.handleEvents)
	}
	if s.feed != nil {
		mux.HandleFunc("GET /api/events/stream", s.feed.handleStream)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// toggleRequest es el payload del RPC toggleAutopilot.
type toggleRequest struct {
	GameID  string `json:"gameId"`
	Enabled bool   `json:"enabled"`
}

// toggleResponse es la respuesta del RPC.
type toggleResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleToggle implementa toggleAutopilot(gameId, enabled).
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, toggleResponse{Message: "rate limit exceeded"})
		return
	}

	if !s.authorized(r) {
		s.recordToggle(r.Context(), "", false, domain.EventFailure, "unauthorized")
		writeJSON(w, http.StatusUnauthorized, toggleResponse{Message: "admin credential required"})
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.recordToggle(r.Context(), "", false, domain.EventFailure, "invalid payload")
		writeJSON(w, http.StatusBadRequest, toggleResponse{Message: "invalid payload"})
		return
	}
	if req.GameID == "" {
		s.recordToggle(r.Context(), "", req.Enabled, domain.EventFailure, "gameId is required")
		writeJSON(w, http.StatusBadRequest, toggleResponse{Message: "gameId is required"})
		return
	}

	err := s.store.SetAutopilot(r.Context(), req.GameID, req.Enabled, time.Now())
	if errors.Is(err, ports.ErrNotFound) {
		s.recordToggle(r.Context(), req.GameID, req.Enabled, domain.EventFailure, "game not found")
		writeJSON(w, http.StatusNotFound, toggleResponse{Message: "game not found"})
		return
	}
	if err != nil {
		slog.Error("toggle autopilot failed", "game", req.GameID, "err", err)
		s.recordToggle(r.Context(), req.GameID, req.Enabled, domain.EventFailure, err.Error())
		writeJSON(w, http.StatusInternalServerError, toggleResponse{Message: "store update failed"})
		return
	}

	s.recordToggle(r.Context(), req.GameID, req.Enabled, domain.EventSuccess, "")
	slog.Info("autopilot toggled", "game", req.GameID, "enabled", req.Enabled)
	writeJSON(w, http.StatusOK, toggleResponse{
		Success: true,
		Message: "autopilot updated",
	})
}

// handleEvents devuelve las últimas entradas del monitor.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, toggleResponse{Message: "admin credential required"})
		return
	}
	events, err := s.events.Recent(r.Context(), 100)
	if err != nil {
		slog.Error("list events failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, toggleResponse{Message: "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// authorized comprueba el bearer token de admin en tiempo constante.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AdminToken == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) == 1
}

// recordToggle registra el intento en el monitor (éxito o fallo).
func (s *Server) recordToggle(ctx context.Context, gameID string, enabled bool, status domain.EventStatus, reason string) {
	details := map[string]any{"enabled": enabled}
	if reason != "" {
		details["error"] = reason
	}
	ev := domain.Event{
		GameID:  gameID,
		Action:  domain.ActionToggleAutopilot,
		Status:  status,
		Details: details,
	}
	if err := s.monitor.Record(ctx, ev); err != nil {
		slog.Warn("event monitor error", "action", domain.ActionToggleAutopilot, "err", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "err", err)
	}
}
