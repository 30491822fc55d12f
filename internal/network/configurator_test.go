//go:build windows

package network

import (
	"net/netip"
	"testing"

	"golang.org/x/sys/windows"
)

func TestFamilyOf(t *testing.T) {
	v4 := netip.MustParseAddr("10.200.0.2")
	v6 := netip.MustParseAddr("fd00::2")
	if got := familyOf(v4); got != windows.AF_INET {
		t.Fatalf("familyOf(v4) = %d, want AF_INET", got)
	}
	if got := familyOf(v6); got != windows.AF_INET6 {
		t.Fatalf("familyOf(v6) = %d, want AF_INET6", got)
	}
}

func TestAddrWidth(t *testing.T) {
	v4 := netip.MustParseAddr("10.200.0.2")
	v6 := netip.MustParseAddr("fd00::2")
	if w := addrWidth(v4); w != 4 {
		t.Fatalf("addrWidth(v4) = %d, want 4", w)
	}
	if w := addrWidth(v6); w != 16 {
		t.Fatalf("addrWidth(v6) = %d, want 16", w)
	}
}

func TestPutAddrRoundTrip(t *testing.T) {
	v4 := netip.MustParseAddr("10.200.0.2")
	buf := make([]byte, 16)
	putAddr(buf, v4)
	got := readAddr(buf, windows.AF_INET)
	if got != v4 {
		t.Fatalf("readAddr(putAddr(v4)) = %v, want %v", got, v4)
	}

	v6 := netip.MustParseAddr("fd00::2")
	buf2 := make([]byte, 16)
	putAddr(buf2, v6)
	got6 := readAddr(buf2, windows.AF_INET6)
	if got6 != v6 {
		t.Fatalf("readAddr(putAddr(v6)) = %v, want %v", got6, v6)
	}
}
