package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/claimguard-jp/claimguard/internal/api"
	"github.com/claimguard-jp/claimguard/internal/api/middleware"
	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/claimguard-jp/claimguard/internal/stream"
	"github.com/go-chi/chi/v5"
)

type StreamBroker interface {
	Open(ctx context.Context, checkID, userID string, cb stream.Callbacks)
}

// StreamHandler bridges the broker's callback sequence onto a
// server-sent-events response.
type StreamHandler struct {
	broker StreamBroker
}

func NewStreamHandler(broker StreamBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

type streamUpdateEvent struct {
	CheckID string `json:"check_id"`
	Status  string `json:"status"`
}

type streamErrorEvent struct {
	Error   string `json:"error"`
	Timeout bool   `json:"timeout,omitempty"`
}

type streamHeartbeatEvent struct {
	Beat int `json:"beat"`
}

func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Open blocks until the subscription ends; all callbacks run on
	// this goroutine, so writes to w never race.
	h.broker.Open(r.Context(), id, user.ID, stream.Callbacks{
		OnUpdate: func(c *domain.Check) {
			writeSSE(w, flusher, "update", streamUpdateEvent{CheckID: c.ID, Status: string(c.Status)})
		},
		OnComplete: func(c *domain.Check, violations []*domain.Violation) {
			resp := checkToResponse(c)
			resp.Violations = violationsToResponse(violations)
			writeSSE(w, flusher, "complete", resp)
		},
		OnError: func(err error) {
			writeSSE(w, flusher, "error", streamErrorEvent{
				Error:   err.Error(),
				Timeout: errors.Is(err, domain.ErrStreamTimeout),
			})
		},
		OnHeartbeat: func(beat int) {
			writeSSE(w, flusher, "heartbeat", streamHeartbeatEvent{Beat: beat})
		},
	})
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
