package tunnel

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/tunnelgw/tunnelgw/internal/metrics"
	"github.com/tunnelgw/tunnelgw/internal/security"
)

// Listener is the tunnel engine's HTTP-level front door: it
// runs the admission gate on every WebSocket upgrade request and hands
// the accepted connection to a fresh Session. Non-upgrade requests are
// handed to Fallback, the external HTTP façade this package treats as
// an out-of-scope collaborator.
type Listener struct {
	ACL      *security.ACL
	Token    string
	WSPath   string
	Fallback http.Handler // landing page / 404s; nil means http.NotFound
	Deps     Deps
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// NewListener constructs a Listener. deps is passed through to every
// Session it creates.
func NewListener(acl *security.ACL, token, wsPath string, deps Deps, m *metrics.Metrics, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		ACL:      acl,
		Token:    token,
		WSPath:   wsPath,
		Deps:     deps,
		Metrics:  m,
		Logger:   logger,
		sessions: make(map[*Session]struct{}),
	}
}

// ServeHTTP implements the single entry point described above: for an
// upgrade request it runs admission and adopts the connection; every
// other request goes to Fallback.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isWebSocketUpgrade(r) {
		if l.Fallback != nil {
			l.Fallback.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
		return
	}

	decision, ip := admit(l.ACL, l.Token, l.WSPath, r)
	switch decision {
	case admitDenyPath:
		// No HTTP response at all — drop the underlying TCP connection.
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
				return
			}
		}
		return

	case admitDenyIP:
		if l.Metrics != nil {
			l.Metrics.AdmissionDeniedTotal.WithLabelValues("ip").Inc()
		}
		l.Logger.Warn("admission denied: ip not in allow-list", "client_ip", ip)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return

	case admitDenyToken:
		if l.Metrics != nil {
			l.Metrics.AdmissionDeniedTotal.WithLabelValues("token").Inc()
		}
		l.Logger.Warn("admission denied: bad token", "client_ip", ip)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var subprotocols []string
	if l.Token != "" {
		subprotocols = []string{l.Token}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: subprotocols,
	})
	if err != nil {
		l.Logger.Error("websocket accept failed", "client_ip", ip, "error", err)
		return
	}
	if l.Deps.MaxMessageSize > 0 {
		conn.SetReadLimit(l.Deps.MaxMessageSize)
	}

	if l.Metrics != nil {
		l.Metrics.TunnelsTotal.Inc()
		l.Metrics.ActiveTunnels.Inc()
	}
	l.Deps.Stats.tunnelOpened()
	l.Logger.Info("tunnel established", "client_ip", ip)

	sess := NewSession(conn, ip, l.Deps)
	l.track(sess)
	defer l.untrack(sess)

	// r.Context() is cancelled as soon as ServeHTTP returns, which races
	// the hijacked connection coder/websocket now owns; run the session
	// against a background context instead.
	sess.Serve(context.Background())
	l.Logger.Info("tunnel closed", "client_ip", ip)
}

// StartDrain sends every live session a graceful close frame. Each
// session's Serve loop observes the close as a read error and tears
// down normally; StartDrain does not itself wait for that to happen —
// callers poll Deps.Stats.ActiveTunnels() for that (see cmd/tunnelgw).
func (l *Listener) StartDrain() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for sess := range l.sessions {
		sess.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (l *Listener) track(s *Session) {
	l.mu.Lock()
	l.sessions[s] = struct{}{}
	l.mu.Unlock()
}

func (l *Listener) untrack(s *Session) {
	l.mu.Lock()
	delete(l.sessions, s)
	l.mu.Unlock()
}

// isWebSocketUpgrade reports whether r asks to upgrade to a WebSocket,
// per RFC 6455 §4.1.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		headerContainsToken(r.Header, "Connection", "upgrade")
}

func headerContainsToken(h http.Header, key, value string) bool {
	for _, v := range h[http.CanonicalHeaderKey(key)] {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), value) {
				return true
			}
		}
	}
	return false
}
