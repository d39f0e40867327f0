package logring

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Handler serves the in-memory lifecycle event ring buffer as JSON —
// this repo's /debug/events introspection endpoint for recent tunnel
// lifecycle events (session open/close, dial failure, admission
// denial).
type Handler struct {
	ring *RingBuffer
}

// NewHandler wraps ring as an http.Handler.
func NewHandler(ring *RingBuffer) *Handler {
	return &Handler{ring: ring}
}

// ServeHTTP writes the matching entries, newest first, as a JSON array.
// Query parameters: limit (default: all), level (debug|info|warn|error,
// default debug), since (RFC3339 timestamp, default: unbounded).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	switch q.Get("level") {
	case "info":
		minLevel = slog.LevelInfo
	case "warn":
		minLevel = slog.LevelWarn
	case "error":
		minLevel = slog.LevelError
	}

	var since time.Time
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}

	entries := h.ring.Entries(limit, minLevel, since)
	if entries == nil {
		entries = []LogEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
