// Package gateway exposes the session engine over a local HTTP endpoint: the
// presentation collaborator polls merged views and issues intents here.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/flipgg/flipsync/internal/connmon"
	"github.com/flipgg/flipsync/internal/events"
	"github.com/flipgg/flipsync/internal/session"
)

// Engine is what the gateway needs from the session layer: lifecycle, the
// merged view, and the room intents.
type Engine interface {
	Open(roomID, localPlayer string) *session.Session
	Close(roomID string)
	RoomView(roomID string) (session.View, bool)
	MakeSelection(ctx context.Context, roomID string, choice events.CoinSide) (string, error)
	RevealChoice(ctx context.Context, roomID string) (string, error)
	HandleTimeout(ctx context.Context, roomID string) (string, error)
	RejoinRoom(ctx context.Context, roomID string) (string, error)
	Refresh(ctx context.Context, roomID string, full bool) error
}

// Server serves room views, intents and connection stats as JSON.
type Server struct {
	engine      Engine
	localPlayer string
	monitor     *connmon.Monitor
}

// NewServer creates a gateway server acting on behalf of localPlayer.
func NewServer(engine Engine, localPlayer string, monitor *connmon.Monitor) *Server {
	return &Server{engine: engine, localPlayer: localPlayer, monitor: monitor}
}

// Handler builds the HTTP handler, CORS-wrapped for browser consumers.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/rooms/", s.handleRoom)
	mux.HandleFunc("/v1/connection", s.handleConnection)
	mux.HandleFunc("/healthz", s.handleHealth)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: allowedOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

type selectRequest struct {
	Choice events.CoinSide `json:"choice"`
}

type actionResponse struct {
	ActionID string `json:"action_id"`
}

// handleRoom dispatches /v1/rooms/{roomID}/{verb}: GET state, POST the rest.
func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/rooms/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "invalid room path", http.StatusNotFound)
		return
	}
	roomID, verb := parts[0], parts[1]

	if verb == "state" {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		view, ok := s.engine.RoomView(roomID)
		if !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		writeJSON(w, view)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch verb {
	case "open":
		s.engine.Open(roomID, s.localPlayer)
		view, _ := s.engine.RoomView(roomID)
		writeJSON(w, view)
	case "close":
		s.engine.Close(roomID)
		w.WriteHeader(http.StatusNoContent)
	case "select":
		var req selectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Choice != events.Heads && req.Choice != events.Tails {
			http.Error(w, "choice must be heads or tails", http.StatusBadRequest)
			return
		}
		actionID, err := s.engine.MakeSelection(r.Context(), roomID, req.Choice)
		s.writeAction(w, actionID, err)
	case "reveal":
		actionID, err := s.engine.RevealChoice(r.Context(), roomID)
		s.writeAction(w, actionID, err)
	case "timeout":
		actionID, err := s.engine.HandleTimeout(r.Context(), roomID)
		s.writeAction(w, actionID, err)
	case "rejoin":
		actionID, err := s.engine.RejoinRoom(r.Context(), roomID)
		s.writeAction(w, actionID, err)
	case "refresh":
		full := r.URL.Query().Get("full") == "true"
		if err := s.engine.Refresh(r.Context(), roomID, full); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "unknown room operation", http.StatusNotFound)
	}
}

func (s *Server) writeAction(w http.ResponseWriter, actionID string, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(actionResponse{ActionID: actionID}); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps engine sentinels onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrRoomNotOpen), errors.Is(err, session.ErrSessionClosed):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrWrongPhase), errors.Is(err, session.ErrCommitmentLost):
		status = http.StatusConflict
	case errors.Is(err, connmon.ErrCircuitOpen):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.monitor.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health response")
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
