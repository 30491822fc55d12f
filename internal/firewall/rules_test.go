//go:build windows

package firewall

import "testing"

func TestRuleName(t *testing.T) {
	m, err := New("FlowForge", `C:\FlowForge\flowforge-client.exe`, "198.51.100.7")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := m.ruleName(ProtocolUDP, 5555)
	want := "FlowForge Out UDP to 198.51.100.7:5555"
	if got != want {
		t.Fatalf("ruleName = %q, want %q", got, want)
	}
}

func TestNewRejectsEmptyFields(t *testing.T) {
	cases := []struct{ prefix, app, ip string }{
		{"", "app.exe", "1.2.3.4"},
		{"Prefix", "", "1.2.3.4"},
		{"Prefix", "app.exe", ""},
	}
	for _, c := range cases {
		if _, err := New(c.prefix, c.app, c.ip); err == nil {
			t.Errorf("New(%q, %q, %q): expected error", c.prefix, c.app, c.ip)
		}
	}
}

func TestProtocolString(t *testing.T) {
	if ProtocolTCP.String() != "TCP" {
		t.Fatalf("ProtocolTCP.String() = %q", ProtocolTCP.String())
	}
	if ProtocolUDP.String() != "UDP" {
		t.Fatalf("ProtocolUDP.String() = %q", ProtocolUDP.String())
	}
}

func TestProtocolWireValue(t *testing.T) {
	if ProtocolTCP.wireValue() != netFwIPProtocolTCP {
		t.Fatalf("ProtocolTCP.wireValue() = %d, want %d", ProtocolTCP.wireValue(), netFwIPProtocolTCP)
	}
	if ProtocolUDP.wireValue() != netFwIPProtocolUDP {
		t.Fatalf("ProtocolUDP.wireValue() = %d, want %d", ProtocolUDP.wireValue(), netFwIPProtocolUDP)
	}
}
