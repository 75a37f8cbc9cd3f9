// Package api exposes a small localhost observability surface for a running
// session: liveness and the live session counters. It reads tracker
// snapshots only and can never affect the pipeline.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/qetzal/snapcourier/internal/session"
)

type statusResponse struct {
	SessionID         string `json:"session_id"`
	StartedAt         string `json:"started_at"`
	LastTickAt        string `json:"last_tick_at,omitempty"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	CapturesAttempted int    `json:"captures_attempted"`
	CapturesDelivered int    `json:"captures_delivered"`
	CapturesFailed    int    `json:"captures_failed"`
	CapturesArchived  int    `json:"captures_archived"`
	Version           string `json:"version"`
}

// NewHandler builds the status router.
func NewHandler(tracker *session.Tracker, version string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		st := tracker.Snapshot()
		resp := statusResponse{
			SessionID:         st.ID,
			StartedAt:         st.StartedAt.UTC().Format(time.RFC3339),
			UptimeSeconds:     int64(time.Since(st.StartedAt).Seconds()),
			CapturesAttempted: st.Attempted,
			CapturesDelivered: st.Delivered,
			CapturesFailed:    st.Failed,
			CapturesArchived:  st.Archived,
			Version:           version,
		}
		if !st.LastTick.IsZero() {
			resp.LastTickAt = st.LastTick.UTC().Format(time.RFC3339)
		}
		writeJSON(w, http.StatusOK, resp)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
