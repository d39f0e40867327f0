package tunnel

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tunnelgw/tunnelgw/internal/frame"
)

// udpSession is a bound UDP endpoint plus a sticky destination for one
// CID. Unlike a tcpSession it has no Dialing state: binding a local UDP
// socket never blocks, so open is synchronous.
type udpSession struct {
	cid    string
	conn   *net.UDPConn
	target *net.UDPAddr

	// lastActive backs the optional idle-reaper; it is never consulted
	// when UDPIdleTimeout is zero.
	lastActive atomic.Int64

	shutdownOnce sync.Once
}

// openUDP handles a UDP_CONNECT:cid|host:port frame: resolves the
// sticky target, binds a fresh OS-assigned local endpoint, and replies
// UDP_CONNECTED:cid. Bind/resolve failure has no frame defined by the
// wire protocol for this case, so it is reported the same way a send
// failure is — UDP_ERROR:cid|message — without ever inserting a table
// entry.
func (s *Session) openUDP(ctx context.Context, cid, targetStr string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, exists := s.udp[cid]; exists {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	targetAddr, err := net.ResolveUDPAddr("udp4", targetStr)
	if err != nil {
		s.sendText(ctx, frame.EncodeUDPError(cid, err.Error()))
		return
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		s.sendText(ctx, frame.EncodeUDPError(cid, err.Error()))
		return
	}

	us := &udpSession{cid: cid, conn: conn, target: targetAddr}
	us.lastActive.Store(time.Now().UnixNano())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.udp[cid] = us
	s.mu.Unlock()

	if s.deps.Metrics != nil {
		s.deps.Metrics.UDPSessionsTotal.Inc()
		s.deps.Metrics.ActiveUDPSessions.Inc()
	}
	s.deps.Stats.udpOpened()

	if err := s.sendText(ctx, frame.EncodeUDPConnected(cid)); err != nil {
		s.removeUDP(cid)
		us.shutdown(s.deps)
		return
	}

	go s.pumpUDP(ctx, us)
}

// pumpUDP is the remote→client flow: every inbound datagram is annotated
// with its true source address and forwarded as binary UDP_DATA.
func (s *Session) pumpUDP(ctx context.Context, us *udpSession) {
	defer s.finishUDP(us)

	buf := make([]byte, 65535)
	for {
		n, srcAddr, err := us.conn.ReadFromUDP(buf)
		if err != nil {
			if isNormalClose(err) {
				return
			}
			// A receive error on a still-open socket is reported to the
			// client and the flow stays open.
			s.logger.Warn("udp read error", "cid", us.cid, "error", err)
			if werr := s.sendText(ctx, frame.EncodeUDPError(us.cid, err.Error())); werr != nil {
				return
			}
			continue
		}
		us.lastActive.Store(time.Now().UnixNano())

		if werr := s.sendBinary(ctx, frame.EncodeUDPData(us.cid, srcAddr.String(), buf[:n])); werr != nil {
			return
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.BytesTotal.WithLabelValues("udp", "down").Add(float64(n))
		}
	}
}

// writeUDP is the client→remote flow: one UDP_DATA payload sent to the
// flow's sticky target. Send errors are reported but never close the
// flow.
func (s *Session) writeUDP(ctx context.Context, cid string, payload []byte) {
	s.mu.Lock()
	us := s.udp[cid]
	s.mu.Unlock()
	if us == nil {
		return
	}
	us.lastActive.Store(time.Now().UnixNano())

	if _, err := us.conn.WriteToUDP(payload, us.target); err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.ErrorsTotal.WithLabelValues("udp_send").Inc()
		}
		s.sendText(ctx, frame.EncodeUDPError(cid, err.Error()))
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.BytesTotal.WithLabelValues("udp", "up").Add(float64(len(payload)))
	}
}

// closeUDPClient handles a client UDP_CLOSE:cid frame: release the
// socket and remove the table entry. No frame is defined for the server
// to emit back.
func (s *Session) closeUDPClient(cid string) {
	us, ok := s.removeUDP(cid)
	if !ok {
		return
	}
	us.shutdown(s.deps)
}

// finishUDP runs when pumpUDP returns, which happens once the socket
// itself is closed (explicit close or teardown) or a frame can no longer
// be written to the WebSocket — a transient send/receive error never
// reaches here.
func (s *Session) finishUDP(us *udpSession) {
	s.removeUDP(us.cid)
	us.shutdown(s.deps)
}

func (s *Session) removeUDP(cid string) (*udpSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us, ok := s.udp[cid]
	if ok {
		delete(s.udp, cid)
	}
	return us, ok
}

func (us *udpSession) shutdown(deps Deps) {
	us.shutdownOnce.Do(func() {
		us.conn.Close()
		deps.Stats.udpClosed()
		if deps.Metrics != nil {
			deps.Metrics.ActiveUDPSessions.Dec()
		}
	})
}

// reapIdleUDP closes any UDP flow that has sent or received nothing for
// longer than deps.UDPIdleTimeout. It is a no-op when the timeout is
// zero (the default) — the engine otherwise applies no application-level
// timeouts.
func (s *Session) reapIdleUDP(ctx context.Context) {
	if s.deps.UDPIdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(s.deps.UDPIdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			var stale []string
			for cid, us := range s.udp {
				last := time.Unix(0, us.lastActive.Load())
				if now.Sub(last) > s.deps.UDPIdleTimeout {
					stale = append(stale, cid)
				}
			}
			s.mu.Unlock()

			for _, cid := range stale {
				s.closeUDPClient(cid)
			}
		}
	}
}
