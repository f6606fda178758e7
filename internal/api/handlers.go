package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"elastic-dca/internal/state"
	"elastic-dca/pkg/types"
)

const version = "3.4.2"

// maxTickBody bounds the heartbeat payload size.
const maxTickBody = 1 << 20

// Handlers holds the HTTP endpoint implementations
type Handlers struct {
	engine   EngineService
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandlers creates the endpoint handler set
func NewHandlers(engine EngineService, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		engine: engine,
		hub:    hub,
		logger: logger.With("component", "api-handlers"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboard may be served from anywhere; CORS is permissive.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleTick is POST /api/tick: one heartbeat in, exactly one action out.
func (h *Handlers) HandleTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTickBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	var tick types.Tick
	if err := json.Unmarshal(sanitizeBody(body), &tick); err != nil {
		h.logger.Warn("malformed tick rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid tick payload: "+err.Error())
		return
	}

	resp, err := h.engine.ProcessTick(r.Context(), tick)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// sanitizeBody tolerates the terminal's string buffer quirks: trailing NUL
// padding and garbage after the final closing brace are stripped before
// JSON parsing.
func sanitizeBody(body []byte) []byte {
	body = bytes.TrimRight(body, "\x00")
	if i := bytes.LastIndexByte(body, '}'); i >= 0 {
		body = body[:i+1]
	}
	return body
}

// HandleUIData is GET /api/ui-data: the consistent dashboard snapshot.
func (h *Handlers) HandleUIData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap, err := h.engine.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toUIData(snap))
}

func toUIData(snap *state.State) UIData {
	return UIData{
		Settings:   snap.Settings,
		Runtime:    snap.Runtime,
		Market:     snap.Market,
		LastUpdate: snap.LastUpdate.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

// HandleUpdateSettings is POST /api/update-settings: full settings
// replacement, accepted or rejected as a whole.
func (h *Handlers) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var settings state.UserSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings payload: "+err.Error())
		return
	}

	if err := h.engine.UpdateSettings(r.Context(), settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.engine.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toUIData(snap))
}

// HandleControl is POST /api/control: operator switches and emergency close.
func (h *Handlers) HandleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var cmd types.ControlCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid control payload: "+err.Error())
		return
	}

	if err := h.engine.ApplyControl(r.Context(), cmd); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleHealth is GET /api/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, HealthStatus{
		Status:      "ok",
		Version:     version,
		ErrorStatus: snap.Runtime.ErrorStatus,
		BuySession:  snap.Runtime.Buy.SessionID,
		SellSession: snap.Runtime.Sell.SessionID,
	})
}

// HandleRoot is GET /: a minimal identification page.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "elastic-dca-engine",
		"version": version,
	})
}

// HandleWebSocket is GET /ws: upgrades and registers a dashboard client.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(h.hub, conn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
