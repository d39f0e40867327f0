package security

import "net"

// ACL is an IPv4 CIDR allow-list, as configured by CIDRS (see §4.2 of the
// admission gate design). Only IPv4 matching is implemented; an IPv6 peer
// passes only when the allow-list contains the wildcard "::/0".
//
// Parsed once at construction, not per request.
type ACL struct {
	nets      []*net.IPNet
	allowAny4 bool
	allowAny6 bool
}

// NewACL parses a list of CIDR strings into an ACL. Entries that fail
// to parse are skipped; a completely empty or all-invalid list allows
// nothing.
func NewACL(cidrs []string) *ACL {
	a := &ACL{}
	for _, c := range cidrs {
		switch c {
		case "0.0.0.0/0":
			a.allowAny4 = true
			continue
		case "::/0":
			a.allowAny6 = true
			continue
		}
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		a.nets = append(a.nets, n)
	}
	return a
}

// Allow reports whether addr (no port) is permitted by the allow-list.
// IPv4-mapped IPv6 addresses are unwrapped to their IPv4 form first. A bare
// IPv6 address is permitted only if the allow-list contains "::/0"; no
// IPv6 subnet matching is implemented.
func (a *ACL) Allow(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}

	if ip4 := ip.To4(); ip4 != nil {
		if a.allowAny4 || a.allowAny6 {
			return true
		}
		for _, n := range a.nets {
			if n.Contains(ip4) {
				return true
			}
		}
		return false
	}

	// Genuine IPv6 peer: only the wildcard is honored.
	return a.allowAny6
}
