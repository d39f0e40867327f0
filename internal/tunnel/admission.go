package tunnel

import (
	"net/http"

	"github.com/tunnelgw/tunnelgw/internal/security"
)

// decision is the outcome of the pre-upgrade admission gate.
type decision int

const (
	admitAllow decision = iota
	admitDenyPath
	admitDenyIP
	admitDenyToken
)

// admit runs the admission gate against r: path match, then IP
// allow-list, then token. The path check happens first since a path
// mismatch drops the TCP connection with no HTTP response at all,
// before any other check has a chance to write one.
func admit(acl *security.ACL, token, wsPath string, r *http.Request) (decision, string) {
	ip := security.ExtractClientIP(r.RemoteAddr)

	if r.URL.Path != wsPath {
		return admitDenyPath, ip
	}
	if !acl.Allow(ip) {
		return admitDenyIP, ip
	}
	if token != "" {
		offered := r.Header.Get("Sec-WebSocket-Protocol")
		if !security.TokenMatch(offered, token) {
			return admitDenyToken, ip
		}
	}
	return admitAllow, ip
}
