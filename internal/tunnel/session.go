// Package tunnel implements the multiplexed tunnel protocol engine: the
// admission gate, the per-WebSocket tunnel session, and the virtual TCP
// and UDP proxy sessions it owns.
package tunnel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tunnelgw/tunnelgw/internal/frame"
	"github.com/tunnelgw/tunnelgw/internal/metrics"
)

// Deps bundles the collaborators every Session needs: timeouts, optional
// Prometheus metrics, and the shared counters that back /health.
type Deps struct {
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	UDPIdleTimeout time.Duration
	MaxMessageSize int64
	Metrics        *metrics.Metrics
	Stats          *Stats
	Logger         *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Session is the per-WebSocket owner of one tunnel's virtual TCP and UDP
// connections. It is created once per accepted upgrade and
// lives until the WebSocket disconnects, at which point it destroys
// every session it owns.
type Session struct {
	conn     *websocket.Conn
	clientIP string
	deps     Deps
	logger   *slog.Logger

	mu     sync.Mutex
	tcp    map[string]*tcpSession
	udp    map[string]*udpSession
	closed bool

	// sendMu serializes writes to conn. coder/websocket permits one
	// concurrent reader and one concurrent writer; every goroutine that
	// can emit a frame (the dispatch loop, every TCP/UDP pump) writes
	// through send/sendText/sendBinary so only one Write is in flight.
	sendMu sync.Mutex
}

// NewSession constructs a Session around an already-accepted WebSocket.
// clientIP is used only for logging.
func NewSession(conn *websocket.Conn, clientIP string, deps Deps) *Session {
	return &Session{
		conn:     conn,
		clientIP: clientIP,
		deps:     deps,
		logger:   deps.logger().With("client_ip", clientIP),
		tcp:      make(map[string]*tcpSession),
		udp:      make(map[string]*udpSession),
	}
}

// Serve runs the session's read/dispatch loop until the WebSocket closes
// or ctx is cancelled, then tears down every virtual connection the
// session owns. It blocks until teardown completes.
func (s *Session) Serve(ctx context.Context) {
	defer s.teardown()

	if s.deps.UDPIdleTimeout > 0 {
		go s.reapIdleUDP(ctx)
	}

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if !isNormalClose(err) {
				s.logger.Warn("tunnel read error", "error", err)
			} else {
				s.logger.Debug("tunnel closed", "reason", err)
			}
			return
		}

		f, ok := frame.Parse(data, typ == websocket.MessageBinary)
		if !ok {
			continue
		}
		s.dispatch(ctx, f)
	}
}

// dispatch routes one parsed frame to the right session. It never
// mutates state for a tag/CID combination it doesn't recognize.
func (s *Session) dispatch(ctx context.Context, f frame.Frame) {
	switch f.Tag {
	case frame.TagTCP:
		cid, target := f.Fields[0], f.Fields[1]
		var initial []byte
		if len(f.Fields) == 3 {
			initial = []byte(f.Fields[2])
		}
		s.openTCP(ctx, cid, target, initial)

	case frame.TagData:
		s.writeTCP(f.CID(), dataPayload(f))

	case frame.TagClose:
		s.closeTCPClient(f.CID())

	case frame.TagUDPConnect:
		s.openUDP(ctx, f.Fields[0], f.Fields[1])

	case frame.TagUDPData:
		s.writeUDP(ctx, f.CID(), f.Payload)

	case frame.TagUDPClose:
		s.closeUDPClient(f.CID())

	case frame.TagClaim:
		if s.deps.Metrics != nil {
			s.deps.Metrics.ClaimsTotal.Inc()
		}
		s.sendText(ctx, frame.EncodeClaimAck(f.Fields[0], f.Fields[1]))
	}
}

// dataPayload extracts a DATA frame's bytes regardless of whether it
// arrived as a binary message (Payload set) or a text message — in the
// text case, the second field carries the payload verbatim.
func dataPayload(f frame.Frame) []byte {
	if f.Payload != nil {
		return f.Payload
	}
	if len(f.Fields) == 2 {
		return []byte(f.Fields[1])
	}
	return nil
}

// send writes one message, serialized against every other writer on
// this session's WebSocket. A blocked write (slow client) holds sendMu,
// which in turn blocks whichever pump goroutine is waiting to send next
// — this is the session's backpressure mechanism.
func (s *Session) send(ctx context.Context, typ websocket.MessageType, data []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	writeCtx := ctx
	if s.deps.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, s.deps.WriteTimeout)
		defer cancel()
	}
	return s.conn.Write(writeCtx, typ, data)
}

func (s *Session) sendText(ctx context.Context, msg string) error {
	return s.send(ctx, websocket.MessageText, []byte(msg))
}

func (s *Session) sendBinary(ctx context.Context, data []byte) error {
	return s.send(ctx, websocket.MessageBinary, data)
}

// teardown destroys every virtual connection the session owns. It is
// idempotent and runs exactly once, from the end of Serve.
func (s *Session) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tcpSessions := s.tcp
	udpSessions := s.udp
	s.tcp = nil
	s.udp = nil
	s.mu.Unlock()

	for _, ts := range tcpSessions {
		ts.shutdown(s.deps)
	}
	for _, us := range udpSessions {
		us.shutdown(s.deps)
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.ActiveTunnels.Dec()
	}
	s.deps.Stats.tunnelClosed()
	s.conn.CloseNow()
}
