// Package frame implements the wire codec for the tunnel protocol: the
// textual command frames and the binary data frames that travel inside a
// single WebSocket connection (see the frame table this package encodes).
//
// Frames mix ASCII headers with binary payloads in the same message. The
// header boundary is always found by byte scanning, never by treating the
// whole message as text — a binary payload may contain bytes that are not
// valid UTF-8.
package frame

import (
	"bytes"
	"strings"
)

// Tags recognized from the client (parsed by this package).
const (
	TagTCP        = "TCP"
	TagData       = "DATA"
	TagClose      = "CLOSE"
	TagUDPConnect = "UDP_CONNECT"
	TagUDPData    = "UDP_DATA"
	TagUDPClose   = "UDP_CLOSE"
	TagClaim      = "CLAIM"
)

// Tags emitted to the client (encoded by this package).
const (
	TagConnected    = "CONNECTED"
	TagUDPConnected = "UDP_CONNECTED"
	TagUDPError     = "UDP_ERROR"
	TagClaimAck     = "CLAIM_ACK"
)

// Frame is a single parsed inbound frame. Tag and Fields come from the
// header; Payload (possibly nil) is the raw data that followed it in a
// binary message.
type Frame struct {
	Tag     string
	Fields  []string
	Payload []byte
}

// CID returns the frame's connection id, or "" if the frame carries none.
func (f Frame) CID() string {
	if len(f.Fields) == 0 {
		return ""
	}
	return f.Fields[0]
}

// Parse decodes one WebSocket message into a Frame. binary reports whether
// the message arrived as a WebSocket binary message (as opposed to text).
// ok is false for anything that must be silently dropped: an unrecognized
// tag, a field count that doesn't match the tag, or an empty CID.
func Parse(data []byte, binary bool) (f Frame, ok bool) {
	colon := bytes.IndexByte(data, ':')
	if colon < 0 {
		return Frame{}, false
	}
	tag := string(data[:colon])
	rest := data[colon+1:]

	if binary {
		return parseBinary(tag, rest)
	}
	return parseText(tag, string(rest))
}

func parseBinary(tag string, rest []byte) (Frame, bool) {
	switch tag {
	case TagData, TagUDPData:
		pipe := bytes.IndexByte(rest, '|')
		if pipe < 0 {
			return Frame{}, false
		}
		cid := string(rest[:pipe])
		if cid == "" {
			return Frame{}, false
		}
		payload := rest[pipe+1:]
		return Frame{Tag: tag, Fields: []string{cid}, Payload: payload}, true
	default:
		// A binary message with any other tag is malformed for this
		// protocol direction; drop it.
		return Frame{}, false
	}
}

func parseText(tag, rest string) (Frame, bool) {
	switch tag {
	case TagTCP:
		// cid|host:port[|first-bytes]; the optional third field keeps any
		// further '|' characters literally (hence SplitN with n=3).
		parts := strings.SplitN(rest, "|", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return Frame{}, false
		}
		return Frame{Tag: tag, Fields: parts}, true

	case TagData:
		// cid|text-payload
		parts := strings.SplitN(rest, "|", 2)
		if len(parts) != 2 || parts[0] == "" {
			return Frame{}, false
		}
		return Frame{Tag: tag, Fields: parts}, true

	case TagClose, TagUDPClose:
		// cid, no further fields
		if rest == "" {
			return Frame{}, false
		}
		return Frame{Tag: tag, Fields: []string{rest}}, true

	case TagUDPConnect:
		// cid|host:port
		parts := strings.SplitN(rest, "|", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Frame{}, false
		}
		return Frame{Tag: tag, Fields: parts}, true

	case TagClaim:
		// a|b, both echoed verbatim
		parts := strings.SplitN(rest, "|", 2)
		if len(parts) != 2 {
			return Frame{}, false
		}
		return Frame{Tag: tag, Fields: parts}, true

	default:
		return Frame{}, false
	}
}

// EncodeConnected builds the text "CONNECTED:cid" frame.
func EncodeConnected(cid string) string {
	return TagConnected + ":" + cid
}

// EncodeClose builds the text "CLOSE:cid" frame.
func EncodeClose(cid string) string {
	return TagClose + ":" + cid
}

// EncodeUDPConnected builds the text "UDP_CONNECTED:cid" frame.
func EncodeUDPConnected(cid string) string {
	return TagUDPConnected + ":" + cid
}

// EncodeUDPError builds the text "UDP_ERROR:cid|message" frame.
func EncodeUDPError(cid, message string) string {
	return TagUDPError + ":" + cid + "|" + message
}

// EncodeClaimAck builds the text "CLAIM_ACK:a|b" frame.
func EncodeClaimAck(a, b string) string {
	return TagClaimAck + ":" + a + "|" + b
}

// EncodeData builds the binary "DATA:cid|" frame with payload appended.
func EncodeData(cid string, payload []byte) []byte {
	return encodeBinary(TagData, cid, "", payload)
}

// EncodeUDPData builds the binary "UDP_DATA:cid|src-host:src-port|" frame
// with the datagram appended.
func EncodeUDPData(cid, srcAddr string, payload []byte) []byte {
	return encodeBinary(TagUDPData, cid, srcAddr, payload)
}

func encodeBinary(tag, cid, extra string, payload []byte) []byte {
	var header strings.Builder
	header.WriteString(tag)
	header.WriteByte(':')
	header.WriteString(cid)
	header.WriteByte('|')
	if extra != "" {
		header.WriteString(extra)
		header.WriteByte('|')
	}
	out := make([]byte, 0, header.Len()+len(payload))
	out = append(out, header.String()...)
	out = append(out, payload...)
	return out
}
