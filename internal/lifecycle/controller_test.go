//go:build windows

package lifecycle

import "testing"

func TestStripBrackets(t *testing.T) {
	cases := []struct{ in, want string }{
		{"[fd00::7]", "fd00::7"},
		{"198.51.100.7", "198.51.100.7"},
		{"[fd00::7", "[fd00::7"},
		{"", ""},
	}
	for _, c := range cases {
		if got := stripBrackets(c.in); got != c.want {
			t.Errorf("stripBrackets(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestResolveFirewallAddressesLiteralV4(t *testing.T) {
	got := resolveFirewallAddresses("198.51.100.7")
	if got != "198.51.100.7" {
		t.Fatalf("resolveFirewallAddresses(literal v4) = %q", got)
	}
}

func TestResolveFirewallAddressesLiteralV6Brackets(t *testing.T) {
	got := resolveFirewallAddresses("[fd00::7]")
	if got != "fd00::7" {
		t.Fatalf("resolveFirewallAddresses(bracketed v6) = %q", got)
	}
}

func TestControllerIsRunningInitiallyFalse(t *testing.T) {
	c := New()
	if c.IsRunning() {
		t.Fatal("expected fresh controller to report not running")
	}
}

func TestControllerStopBeforeStartFails(t *testing.T) {
	c := New()
	if code := c.Stop(); code != -2 {
		t.Fatalf("Stop before Start = %d, want -2", code)
	}
}

func TestModulePathResolves(t *testing.T) {
	path, err := modulePath()
	if err != nil {
		t.Fatalf("modulePath: %v", err)
	}
	if path == "" {
		t.Fatal("modulePath returned an empty path")
	}
}
