package frame

import (
	"bytes"
	"testing"
)

func TestParseTextFrames(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		wantOK bool
		tag    string
		fields []string
	}{
		{"tcp open with initial bytes", "TCP:c1|echo-tcp:7|hello", true, TagTCP, []string{"c1", "echo-tcp:7", "hello"}},
		{"tcp open without initial bytes", "TCP:c1|echo-tcp:7", true, TagTCP, []string{"c1", "echo-tcp:7"}},
		{"tcp open missing host", "TCP:c1", false, "", nil},
		{"data text", "DATA:c1|hello|world", true, TagData, []string{"c1", "hello|world"}},
		{"data text empty cid", "DATA:|payload", false, "", nil},
		{"close", "CLOSE:c1", true, TagClose, []string{"c1"}},
		{"close empty cid", "CLOSE:", false, "", nil},
		{"udp connect", "UDP_CONNECT:u1|echo-udp:7", true, TagUDPConnect, []string{"u1", "echo-udp:7"}},
		{"udp close", "UDP_CLOSE:u1", true, TagUDPClose, []string{"u1"}},
		{"claim", "CLAIM:42|abc", true, TagClaim, []string{"42", "abc"}},
		{"unknown tag", "FROB:c1|x", false, "", nil},
		{"no colon", "garbage", false, "", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, ok := Parse([]byte(tc.input), false)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if f.Tag != tc.tag {
				t.Errorf("tag = %q, want %q", f.Tag, tc.tag)
			}
			if len(f.Fields) != len(tc.fields) {
				t.Fatalf("fields = %v, want %v", f.Fields, tc.fields)
			}
			for i := range tc.fields {
				if f.Fields[i] != tc.fields[i] {
					t.Errorf("field[%d] = %q, want %q", i, f.Fields[i], tc.fields[i])
				}
			}
		})
	}
}

func TestParseBinaryFrames(t *testing.T) {
	data := append([]byte("DATA:c1|"), []byte{0x00, 0x80, 0xff}...)
	f, ok := Parse(data, true)
	if !ok {
		t.Fatal("expected ok")
	}
	if f.CID() != "c1" {
		t.Errorf("cid = %q, want c1", f.CID())
	}
	if !bytes.Equal(f.Payload, []byte{0x00, 0x80, 0xff}) {
		t.Errorf("payload = %v", f.Payload)
	}

	// UDP_DATA uses the same single-pipe header on the client->server side.
	f2, ok := Parse([]byte("UDP_DATA:u1|ping"), true)
	if !ok {
		t.Fatal("expected ok")
	}
	if f2.CID() != "u1" || string(f2.Payload) != "ping" {
		t.Errorf("got cid=%q payload=%q", f2.CID(), f2.Payload)
	}

	// Binary message with no pipe is malformed.
	if _, ok := Parse([]byte("DATA:c1"), true); ok {
		t.Error("expected drop for missing pipe")
	}

	// Binary message with a tag that isn't DATA/UDP_DATA is dropped.
	if _, ok := Parse([]byte("CLOSE:c1|"), true); ok {
		t.Error("expected drop for non-binary tag")
	}

	// Empty CID is dropped even with a well-formed pipe.
	if _, ok := Parse([]byte("DATA:|payload"), true); ok {
		t.Error("expected drop for empty cid")
	}
}

func TestEncodeFrames(t *testing.T) {
	if got := EncodeConnected("c1"); got != "CONNECTED:c1" {
		t.Errorf("got %q", got)
	}
	if got := EncodeClose("c1"); got != "CLOSE:c1" {
		t.Errorf("got %q", got)
	}
	if got := EncodeUDPConnected("u1"); got != "UDP_CONNECTED:u1" {
		t.Errorf("got %q", got)
	}
	if got := EncodeUDPError("u1", "send failed"); got != "UDP_ERROR:u1|send failed" {
		t.Errorf("got %q", got)
	}
	if got := EncodeClaimAck("42", "abc"); got != "CLAIM_ACK:42|abc" {
		t.Errorf("got %q", got)
	}

	data := EncodeData("c1", []byte{0x00, 0x80, 0xff})
	want := append([]byte("DATA:c1|"), []byte{0x00, 0x80, 0xff}...)
	if !bytes.Equal(data, want) {
		t.Errorf("EncodeData = %v, want %v", data, want)
	}

	udp := EncodeUDPData("u1", "echo-udp:7", []byte("pong"))
	wantUDP := []byte("UDP_DATA:u1|echo-udp:7|pong")
	if !bytes.Equal(udp, wantUDP) {
		t.Errorf("EncodeUDPData = %q, want %q", udp, wantUDP)
	}
}

func TestParseDropsWrongFieldCount(t *testing.T) {
	if _, ok := Parse([]byte("CLAIM:onlyone"), false); ok {
		t.Error("expected drop for claim missing second field")
	}
}
