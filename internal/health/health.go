package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

// Response is the JSON response from the /health endpoint.
type Response struct {
	Status          string   `json:"status"`
	Uptime          string   `json:"uptime"`
	ActiveTunnels   int      `json:"active_tunnels"`
	ActiveTCPSessions int    `json:"active_tcp_sessions"`
	ActiveUDPSessions int    `json:"active_udp_sessions"`
	Version         string   `json:"version"`
	Timestamp       string   `json:"timestamp"`
	Details         *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	TotalTunnels     int64   `json:"total_tunnels"`
	TotalTCPSessions int64   `json:"total_tcp_sessions"`
	TotalUDPSessions int64   `json:"total_udp_sessions"`
	MemoryMB         float64 `json:"memory_mb"`
}

// StatsProvider is implemented by the tunnel engine. It reports the
// counters health exposes without health importing the tunnel package
// directly, keeping the dependency pointed one way.
type StatsProvider interface {
	ActiveTunnels() int
	ActiveTCPSessions() int
	ActiveUDPSessions() int
	TotalTunnels() int64
	TotalTCPSessions() int64
	TotalUDPSessions() int64
}

// Handler serves the health check endpoint.
type Handler struct {
	startTime time.Time
	stats     StatsProvider
	version   string
	detailed  bool
}

// NewHandler creates a new health check handler.
func NewHandler(stats StatsProvider, version string, detailed bool) *Handler {
	return &Handler{
		startTime: time.Now(),
		stats:     stats,
		version:   version,
		detailed:  detailed,
	}
}

// ServeHTTP handles health check requests.
// The health listener runs on its own loopback address, separate from
// the tunnel listener, so local monitoring tools can check liveness
// without needing admission-gate credentials.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := Response{
		Status:            "ok",
		Uptime:            time.Since(h.startTime).Round(time.Second).String(),
		ActiveTunnels:     h.stats.ActiveTunnels(),
		ActiveTCPSessions: h.stats.ActiveTCPSessions(),
		ActiveUDPSessions: h.stats.ActiveUDPSessions(),
		Version:           h.version,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Details = &Details{
			TotalTunnels:     h.stats.TotalTunnels(),
			TotalTCPSessions: h.stats.TotalTCPSessions(),
			TotalUDPSessions: h.stats.TotalUDPSessions(),
			MemoryMB:         float64(memStats.Alloc) / 1024 / 1024,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
