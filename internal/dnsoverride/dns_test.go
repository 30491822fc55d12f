//go:build windows

package dnsoverride

import "testing"

func TestBasePathForFamily(t *testing.T) {
	if got := basePathForFamily(false); got != `SYSTEM\CurrentControlSet\Services\Tcpip\Parameters\Interfaces\` {
		t.Fatalf("basePathForFamily(false) = %q", got)
	}
	if got := basePathForFamily(true); got != `SYSTEM\CurrentControlSet\Services\Tcpip6\Parameters\Interfaces\` {
		t.Fatalf("basePathForFamily(true) = %q", got)
	}
}

func TestNewOverrideIdleState(t *testing.T) {
	o := New(0x1234)
	if o.applied {
		t.Fatal("New should not mark applied before Apply")
	}
	if o.touchedV4 || o.touchedV6 {
		t.Fatal("New should not mark any family touched before Apply")
	}
}
