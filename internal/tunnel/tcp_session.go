package tunnel

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/tunnelgw/tunnelgw/internal/frame"
)

// tcpSession states.
const (
	tcpDialing int32 = iota
	tcpEstablished
	tcpClosed
)

// tcpSession owns one outbound TCP stream bound to one CID within a
// Session.
type tcpSession struct {
	cid   string
	conn  net.Conn // nil until the dial succeeds
	state atomic.Int32

	shutdownOnce sync.Once
}

// openTCP handles a TCP open frame: registers a placeholder session
// under cid (dropping a second open for the same, still-live cid — the
// client owns CID uniqueness) and dials in the background so the
// read/dispatch loop is never blocked on a slow dial.
func (s *Session) openTCP(ctx context.Context, cid, target string, initial []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, exists := s.tcp[cid]; exists {
		s.mu.Unlock()
		return
	}
	ts := &tcpSession{cid: cid}
	ts.state.Store(tcpDialing)
	s.tcp[cid] = ts
	s.mu.Unlock()

	if s.deps.Metrics != nil {
		s.deps.Metrics.TCPSessionsTotal.Inc()
		s.deps.Metrics.ActiveTCPSessions.Inc()
	}
	s.deps.Stats.tcpOpened()

	go s.dialTCP(ctx, ts, target, initial)
}

func (s *Session) dialTCP(ctx context.Context, ts *tcpSession, target string, initial []byte) {
	dialCtx := ctx
	var cancel context.CancelFunc
	if s.deps.DialTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, s.deps.DialTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", target)
	if err != nil {
		s.logger.Warn("tcp dial failed", "cid", ts.cid, "target", target, "error", err)
		if s.deps.Metrics != nil {
			s.deps.Metrics.DialErrorsTotal.WithLabelValues("tcp").Inc()
		}
		if _, existed := s.removeTCP(ts.cid); existed {
			s.sendText(ctx, frame.EncodeClose(ts.cid))
		}
		ts.shutdown(s.deps)
		return
	}

	if len(initial) > 0 {
		// Initial bytes precede anything else written to the stream,
		// and precede CONNECTED being sent to the client.
		if _, err := conn.Write(initial); err != nil {
			conn.Close()
			if _, existed := s.removeTCP(ts.cid); existed {
				s.sendText(ctx, frame.EncodeClose(ts.cid))
			}
			ts.shutdown(s.deps)
			return
		}
	}

	// A client CLOSE or tunnel teardown that arrived while dialing has
	// already removed and shut down ts; the new stream is not adopted.
	s.mu.Lock()
	if s.tcp[ts.cid] != ts {
		s.mu.Unlock()
		conn.Close()
		return
	}
	ts.conn = conn
	ts.state.Store(tcpEstablished)
	s.mu.Unlock()

	if err := s.sendText(ctx, frame.EncodeConnected(ts.cid)); err != nil {
		s.removeTCP(ts.cid)
		ts.shutdown(s.deps)
		return
	}

	go s.pumpTCP(ctx, ts)
}

// pumpTCP is the outbound→client flow: every read from the outbound
// stream becomes a binary DATA:cid frame.
func (s *Session) pumpTCP(ctx context.Context, ts *tcpSession) {
	defer s.finishTCP(ctx, ts)

	buf := make([]byte, 32*1024)
	for {
		n, err := ts.conn.Read(buf)
		if n > 0 {
			if werr := s.sendBinary(ctx, frame.EncodeData(ts.cid, buf[:n])); werr != nil {
				return
			}
			if s.deps.Metrics != nil {
				s.deps.Metrics.BytesTotal.WithLabelValues("tcp", "down").Add(float64(n))
			}
		}
		if err != nil {
			if !isNormalClose(err) {
				s.logger.Warn("tcp read error", "cid", ts.cid, "error", err)
			}
			return
		}
	}
}

// writeTCP is the client→outbound flow: every DATA frame targeting cid.
// Writes to a dialing, closed, or unknown session are silently dropped
// (a DATA frame for a still-dialing or unknown CID must never crash).
func (s *Session) writeTCP(cid string, payload []byte) {
	if len(payload) == 0 {
		return
	}
	s.mu.Lock()
	ts := s.tcp[cid]
	s.mu.Unlock()
	if ts == nil || ts.state.Load() != tcpEstablished {
		return
	}
	if _, err := ts.conn.Write(payload); err != nil {
		// The concurrent pump's Read will observe the same failure and
		// drive teardown; nothing further to do here.
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.BytesTotal.WithLabelValues("tcp", "up").Add(float64(len(payload)))
	}
}

// closeTCPClient handles a client CLOSE:cid frame: destroy the stream
// and remove it from the table with no CLOSE echoed back.
func (s *Session) closeTCPClient(cid string) {
	ts, ok := s.removeTCP(cid)
	if !ok {
		return
	}
	ts.shutdown(s.deps)
}

// finishTCP runs when pumpTCP returns (remote end or error). It removes
// the session if still present and, only then, emits CLOSE:cid — a
// session the client already closed (closeTCPClient raced us to the
// table) gets no further frame.
func (s *Session) finishTCP(ctx context.Context, ts *tcpSession) {
	_, existed := s.removeTCP(ts.cid)
	ts.shutdown(s.deps)
	if existed {
		s.sendText(ctx, frame.EncodeClose(ts.cid))
	}
}

func (s *Session) removeTCP(cid string) (*tcpSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tcp[cid]
	if ok {
		delete(s.tcp, cid)
	}
	return ts, ok
}

// shutdown releases the outbound stream and decrements counters exactly
// once regardless of how many teardown paths reach this session.
func (ts *tcpSession) shutdown(deps Deps) {
	ts.shutdownOnce.Do(func() {
		ts.state.Store(tcpClosed)
		if ts.conn != nil {
			ts.conn.Close()
		}
		deps.Stats.tcpClosed()
		if deps.Metrics != nil {
			deps.Metrics.ActiveTCPSessions.Dec()
		}
	})
}
