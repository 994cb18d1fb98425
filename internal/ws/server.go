package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/paulrobello/claude-office/internal/config"
	"github.com/paulrobello/claude-office/internal/event"
	"github.com/paulrobello/claude-office/internal/processor"
	"github.com/paulrobello/claude-office/internal/store"
)

type Server struct {
	cfg            *config.Config
	store          *store.Store
	proc           *processor.Processor
	hub            *Hub
	summaryEnabled bool
	started        time.Time
}

func NewServer(cfg *config.Config, st *store.Store, proc *processor.Processor, hub *Hub, summaryEnabled bool) *Server {
	return &Server{
		cfg:            cfg,
		store:          st,
		proc:           proc,
		hub:            hub,
		summaryEnabled: summaryEnabled,
		started:        time.Now(),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvent).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleClearSessions).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{sessionID}/replay", s.handleReplay).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{sessionID}", s.handleDeleteSession).Methods(http.MethodDelete)

	r.HandleFunc("/ws/{sessionID}", s.handleWS).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":           "ok",
		"uptimeSeconds":    int(time.Since(s.started).Seconds()),
		"aiSummaryEnabled": s.summaryEnabled,
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		resp["cpuPercent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp["memoryUsedPercent"] = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleEvent accepts a lifecycle event and queues it for processing.
// The response does not wait for the pipeline: hooks post events from
// inside agent tool calls and must not block them.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var evt event.Event
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "invalid event payload"})
		return
	}
	if evt.SessionID == "" || evt.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "session_id and event_type are required"})
		return
	}
	evt.Normalize(time.Now())

	go s.proc.ProcessEvent(context.Background(), evt)

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": err.Error()})
		return
	}
	if sessions == nil {
		sessions = []store.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	ok, err := s.store.HasSession(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Session not found"})
		return
	}

	steps, err := s.proc.Replay(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, steps)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	ok, err := s.store.HasSession(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Session not found"})
		return
	}

	if err := s.store.DeleteSession(r.Context(), sessionID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": err.Error()})
		return
	}
	s.proc.RemoveSession(sessionID)

	s.hub.BroadcastAll(map[string]any{
		"type":      MsgSessionDeleted,
		"sessionId": sessionID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "sessionId": sessionID})
}

func (s *Server) handleClearSessions(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": err.Error()})
		return
	}
	s.proc.ClearAllSessions()

	s.hub.BroadcastAll(map[string]any{"type": MsgReload})
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	log.Printf("ws client connected: session=%s addr=%s", sessionID, r.RemoteAddr)
	c := s.hub.AddClient(sessionID, conn)

	// New clients get the current state immediately so the office
	// renders without waiting for the next event.
	if state, err := s.proc.Snapshot(context.Background(), sessionID); err == nil && state != nil {
		s.hub.Send(sessionID, c, map[string]any{
			"type":      MsgStateUpdate,
			"timestamp": state.LastUpdated.Format(time.RFC3339Nano),
			"state":     state,
		})
	}

	go func() {
		defer func() {
			s.hub.RemoveClient(sessionID, c)
			log.Printf("ws client disconnected: session=%s addr=%s", sessionID, r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}
