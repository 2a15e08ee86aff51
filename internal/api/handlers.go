package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/verbatim-audio/verbatim/internal/asr"
	"github.com/verbatim-audio/verbatim/internal/config"
	"github.com/verbatim-audio/verbatim/internal/session"
	"github.com/verbatim-audio/verbatim/internal/storage/sqlite"
	"github.com/verbatim-audio/verbatim/internal/websocket"
	"github.com/verbatim-audio/verbatim/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	manager           *session.Manager
	registry          *asr.Registry
	config            *config.Config
	wsHandler         *websocket.Handler
	transcriptStorage *sqlite.TranscriptStorage
	logger            *logger.Logger
	startedAt         time.Time
}

// NewHandler creates a new API handler. transcriptStorage may be nil
// when archiving is disabled.
func NewHandler(manager *session.Manager, registry *asr.Registry, cfg *config.Config, wsHandler *websocket.Handler, transcriptStorage *sqlite.TranscriptStorage, log *logger.Logger) *Handler {
	return &Handler{
		manager:           manager,
		registry:          registry,
		config:            cfg,
		wsHandler:         wsHandler,
		transcriptStorage: transcriptStorage,
		logger:            log.Named("api-handler"),
		startedAt:         time.Now().UTC(),
	}
}

// HandleWebSocket handles WebSocket transcription connections
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}

// GetSessions returns the current session occupancy
func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"timestamp":       time.Now().UTC(),
		"active_sessions": h.manager.ActiveSessions(),
		"max_sessions":    h.manager.MaxSessions(),
	})
}

// LoadModel warms up a model ahead of client traffic
func (h *Handler) LoadModel(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	if !asr.ValidModel(model) {
		http.Error(w, fmt.Sprintf("unknown model %q", model), http.StatusBadRequest)
		return
	}

	start := time.Now()
	if err := h.registry.Ensure(r.Context(), model); err != nil {
		h.logger.Error("Model warm-up failed",
			logger.String("model", model),
			logger.Error(err))
		http.Error(w, "Failed to load model", http.StatusBadGateway)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"model":        model,
		"loaded":       true,
		"load_time_ms": time.Since(start).Milliseconds(),
	})
}

// GetHealth reports liveness
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// GetTranscripts returns archived transcripts with pagination. An
// optional session_id query parameter restricts the result to one
// session.
func (h *Handler) GetTranscripts(w http.ResponseWriter, r *http.Request) {
	if h.transcriptStorage == nil {
		http.Error(w, "Transcript storage not enabled", http.StatusServiceUnavailable)
		return
	}

	limit, offset := parsePaginationParams(r)
	sessionID := r.URL.Query().Get("session_id")

	var (
		transcripts any
		count       int
		err         error
	)
	if sessionID != "" {
		rows, qerr := h.transcriptStorage.GetTranscriptsBySession(sessionID, limit, offset)
		transcripts, count, err = rows, len(rows), qerr
	} else {
		rows, qerr := h.transcriptStorage.GetTranscripts(limit, offset)
		transcripts, count, err = rows, len(rows), qerr
	}
	if err != nil {
		h.logger.Error("Failed to retrieve transcripts", logger.Error(err))
		http.Error(w, "Failed to retrieve transcripts", http.StatusInternalServerError)
		return
	}

	response := map[string]any{
		"timestamp":   time.Now().UTC(),
		"count":       count,
		"transcripts": transcripts,
	}
	if sessionID != "" {
		response["session_id"] = sessionID
	}
	WriteJSON(w, http.StatusOK, response)
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parsePaginationParams(r *http.Request) (int, int) {
	limit := 100 // Default limit
	offset := 0  // Default offset

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}
