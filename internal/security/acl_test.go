package security

import "testing"

func TestACLWildcardAllowsAny(t *testing.T) {
	a := NewACL([]string{"0.0.0.0/0", "::/0"})
	if !a.Allow("192.0.2.1") {
		t.Error("expected wildcard to allow arbitrary IPv4")
	}
	if !a.Allow("2001:db8::1") {
		t.Error("expected wildcard to allow arbitrary IPv6")
	}
}

func TestACLSpecificCIDR(t *testing.T) {
	a := NewACL([]string{"10.0.0.0/8"})
	if !a.Allow("10.1.2.3") {
		t.Error("expected 10.1.2.3 to be allowed")
	}
	if a.Allow("192.0.2.1") {
		t.Error("expected 192.0.2.1 to be denied")
	}
}

func TestACLRejectsIPv6WithoutWildcard(t *testing.T) {
	a := NewACL([]string{"0.0.0.0/0"})
	if a.Allow("2001:db8::1") {
		t.Error("expected IPv6 peer to be rejected without ::/0")
	}
}

func TestACLInvalidEntriesIgnored(t *testing.T) {
	a := NewACL([]string{"not-a-cidr", "10.0.0.0/8"})
	if !a.Allow("10.5.5.5") {
		t.Error("expected valid entry to still work")
	}
}

func TestACLEmptyDeniesAll(t *testing.T) {
	a := NewACL(nil)
	if a.Allow("127.0.0.1") {
		t.Error("expected empty ACL to deny everything")
	}
}

func TestACLMappedIPv4(t *testing.T) {
	a := NewACL([]string{"10.0.0.0/8"})
	// ::ffff:10.0.0.1 is the IPv4-mapped IPv6 form of 10.0.0.1.
	if !a.Allow("::ffff:10.0.0.1") {
		t.Error("expected IPv4-mapped address to match the IPv4 CIDR")
	}
}
