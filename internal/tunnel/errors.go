package tunnel

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/coder/websocket"
)

// isNormalClose reports whether err represents an expected end of a
// transport (remote EOF, reset, broken pipe, or an already-closed
// descriptor) rather than a genuine failure worth logging at error
// level.
func isNormalClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return true
		}
	}
	return false
}
