package tunnel

import "sync/atomic"

// Stats holds the process-wide counters surfaced through the /health
// endpoint (see internal/health.StatsProvider) and, when Prometheus
// metrics are enabled, mirrored into internal/metrics gauges. A single
// Stats is shared by every Session a Listener hands out.
type Stats struct {
	activeTunnels atomic.Int64
	totalTunnels  atomic.Int64
	activeTCP     atomic.Int64
	totalTCP      atomic.Int64
	activeUDP     atomic.Int64
	totalUDP      atomic.Int64
}

// NewStats returns a zeroed Stats.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) tunnelOpened() {
	s.activeTunnels.Add(1)
	s.totalTunnels.Add(1)
}

func (s *Stats) tunnelClosed() {
	s.activeTunnels.Add(-1)
}

func (s *Stats) tcpOpened() {
	s.activeTCP.Add(1)
	s.totalTCP.Add(1)
}

func (s *Stats) tcpClosed() {
	s.activeTCP.Add(-1)
}

func (s *Stats) udpOpened() {
	s.activeUDP.Add(1)
	s.totalUDP.Add(1)
}

func (s *Stats) udpClosed() {
	s.activeUDP.Add(-1)
}

// ActiveTunnels reports the number of live WebSocket tunnel sessions.
func (s *Stats) ActiveTunnels() int { return int(s.activeTunnels.Load()) }

// ActiveTCPSessions reports the number of live virtual TCP connections
// across all tunnels (a session counts from Dialing until it is Closed).
func (s *Stats) ActiveTCPSessions() int { return int(s.activeTCP.Load()) }

// ActiveUDPSessions reports the number of live virtual UDP flows across
// all tunnels.
func (s *Stats) ActiveUDPSessions() int { return int(s.activeUDP.Load()) }

// TotalTunnels reports the number of tunnel sessions accepted since start.
func (s *Stats) TotalTunnels() int64 { return s.totalTunnels.Load() }

// TotalTCPSessions reports the number of virtual TCP connections opened
// since start.
func (s *Stats) TotalTCPSessions() int64 { return s.totalTCP.Load() }

// TotalUDPSessions reports the number of virtual UDP flows opened since
// start.
func (s *Stats) TotalUDPSessions() int64 { return s.totalUDP.Load() }
