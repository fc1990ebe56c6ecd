package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const heartbeatInterval = 30 * time.Second

func (h *Handler) currentAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Notifier.Current(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handler) sweepAlerts(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Notifier.Sweep(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"emitted": n})
}

// streamAlerts holds the connection open and forwards broadcast alerts as
// server-sent events until the client goes away.
func (h *Handler) streamAlerts(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported", "INTERNAL")
		return
	}

	clientID := uuid.NewString()
	sub := h.svc.Hub.Subscribe(clientID, 64)
	defer h.svc.Hub.Unsubscribe(clientID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: connected\ndata: {\"client_id\":%q}\n\n", clientID)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case a, ok := <-sub.Alerts:
			if !ok {
				return
			}
			data, err := json.Marshal(a)
			if err != nil {
				h.log.Warn("encoding alert for stream", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: alert\ndata: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
