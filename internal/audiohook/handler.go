package audiohook

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"audiohook-server/internal/platform/logger"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// Handler exposes the AudioHook WebSocket endpoint and the introspection
// endpoints using go-chi.
type Handler struct {
	sup       *Supervisor
	log       *slog.Logger
	upgrader  websocket.Upgrader
	readLimit int64
}

// NewHandler returns a Handler serving connections through sup. readLimit caps
// the size of one inbound frame; zero keeps the websocket default.
// log may be nil.
func NewHandler(sup *Supervisor, readLimit int64, log *slog.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		sup:       sup,
		log:       log,
		readLimit: readLimit,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/v1/audiohook/ws", h.ServeWS)
	r.Get("/api/v1/audiohook/sessions/{session_id}", h.GetSession)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
}

// ServeWS handles GET /api/v1/audiohook/ws. The connection is held until the
// session ends.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.sup.Draining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	hdr := HeadersFrom(r.Header)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	if err := h.sup.Serve(conn, hdr); err != nil {
		h.log.Info("connection rejected",
			slog.String("session_id", hdr.SessionID),
			slog.String("error", err.Error()))
	}
}

type healthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
}

// Health handles GET /health. It reports 503 while draining.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", ActiveSessions: h.sup.Registry().Count()}
	code := http.StatusOK
	if h.sup.Draining() {
		resp.Status = "draining"
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, resp)
}

type statsResponse struct {
	ActiveSessions int       `json:"active_sessions"`
	Sessions       []Summary `json:"sessions"`
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	sessions := h.sup.Registry().Summaries()
	h.writeJSON(w, http.StatusOK, statsResponse{ActiveSessions: len(sessions), Sessions: sessions})
}

// GetSession handles GET /api/v1/audiohook/sessions/{session_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sess, ok := h.sup.Registry().Get(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("write response failed", slog.String("error", err.Error()))
	}
}
