package vpnconfig

import (
	"fmt"
	"testing"
)

const baseConfig = `{
  "tun": "FlowForge Tunnel",
  "server": "198.51.100.7",
  "port": 5555,
  "plugin": "plugins/echo.dll",
  "local4": "10.200.0.2",
  "peer4": "10.200.0.1",
  "local6": "fd00::2",
  "peer6": "fd00::1",
  "mtu": 1400,
  "dns": %s
}`

func TestParseDNSArray(t *testing.T) {
	raw := []byte(fmt.Sprintf(baseConfig, `["10.200.0.1", "1.1.1.1"]`))
	r, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(r.DNS) != 2 {
		t.Fatalf("DNS = %v, want 2 entries", r.DNS)
	}
}

func TestParseDNSCSVString(t *testing.T) {
	raw := []byte(fmt.Sprintf(baseConfig, `"10.200.0.1, 1.1.1.1"`))
	r, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(r.DNS) != 2 {
		t.Fatalf("DNS = %v, want 2 entries", r.DNS)
	}
}

func TestParseRejectsEmptyDNS(t *testing.T) {
	raw := []byte(fmt.Sprintf(baseConfig, `[]`))
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for empty dns list")
	}
}

func TestParseRejectsInvalidDNSEntry(t *testing.T) {
	raw := []byte(fmt.Sprintf(baseConfig, `["not-an-ip"]`))
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for malformed dns entry")
	}
}

func TestParseStripsServerBrackets(t *testing.T) {
	raw := []byte(`{
		"tun": "FlowForge Tunnel",
		"server": "[fd00::7]",
		"port": 5555,
		"plugin": "plugins/echo.dll",
		"local4": "10.200.0.2",
		"peer4": "10.200.0.1",
		"mtu": 1400,
		"dns": ["1.1.1.1"]
	}`)
	r, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.ServerHost != "fd00::7" {
		t.Fatalf("ServerHost = %q, want fd00::7", r.ServerHost)
	}
}

func TestParseRejectsMissingRequiredFields(t *testing.T) {
	cases := []string{
		`{"server":"198.51.100.7","port":5555,"plugin":"p.dll","local4":"10.200.0.2","peer4":"10.200.0.1","mtu":1400,"dns":["1.1.1.1"]}`,
		`{"tun":"t","port":5555,"plugin":"p.dll","local4":"10.200.0.2","peer4":"10.200.0.1","mtu":1400,"dns":["1.1.1.1"]}`,
		`{"tun":"t","server":"s","port":0,"plugin":"p.dll","local4":"10.200.0.2","peer4":"10.200.0.1","mtu":1400,"dns":["1.1.1.1"]}`,
		`{"tun":"t","server":"s","port":5555,"local4":"10.200.0.2","peer4":"10.200.0.1","mtu":1400,"dns":["1.1.1.1"]}`,
	}
	for i, raw := range cases {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Errorf("case %d: expected error, got none", i)
		}
	}
}

