// Package vpnconfig defines the JSON configuration the lifecycle
// controller's Start accepts: one tunnel's adapter name, transport
// server, plugin path, addressing, and DNS servers.
package vpnconfig

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"

	"flowforge/internal/addressplan"
)

// Config is the JSON document passed to Start. DNS accepts either a JSON
// array of strings or a single CSV string, mirroring the flexible input
// the original accepted from its GUI and CLI callers alike.
type Config struct {
	TUN    string          `json:"tun"`
	Server string          `json:"server"`
	Port   int             `json:"port"`
	Plugin string          `json:"plugin"`
	Local4 string          `json:"local4"`
	Peer4  string          `json:"peer4"`
	Local6 string          `json:"local6"`
	Peer6  string          `json:"peer6"`
	MTU    int             `json:"mtu"`
	DNS    json.RawMessage `json:"dns"`
}

// Resolved is a Config after validation: addresses parsed into a Plan,
// DNS servers parsed into netip.Addr, and the server hostname/literal
// stripped of any bracket notation.
type Resolved struct {
	TUN        string
	ServerHost string
	Port       int
	PluginPath string
	Plan       addressplan.Plan
	DNS        []netip.Addr
}

// Parse decodes and validates raw JSON config text, returning a Resolved
// value ready to drive the lifecycle controller. tun, server, port, plugin,
// mtu and dns are required. The local4/peer4 and local6/peer6 pairs are
// each optional: at least one complete pair must be present, a half-set
// pair is rejected, and a config without the other pair is accepted.
// Out-of-range or malformed values are rejected before any OS side effect
// is attempted.
func Parse(raw []byte) (Resolved, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Resolved{}, fmt.Errorf("vpnconfig: invalid JSON: %w", err)
	}
	return cfg.resolve()
}

func (cfg Config) resolve() (Resolved, error) {
	if cfg.TUN == "" {
		return Resolved{}, fmt.Errorf("vpnconfig: tun is required")
	}
	if cfg.Server == "" {
		return Resolved{}, fmt.Errorf("vpnconfig: server is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return Resolved{}, fmt.Errorf("vpnconfig: port %d out of range [1, 65535]", cfg.Port)
	}
	if cfg.Plugin == "" {
		return Resolved{}, fmt.Errorf("vpnconfig: plugin is required")
	}

	plan, err := addressplan.Parse(cfg.Local4, cfg.Peer4, cfg.Local6, cfg.Peer6, cfg.MTU)
	if err != nil {
		return Resolved{}, err
	}

	dnsServers, err := cfg.parseDNS()
	if err != nil {
		return Resolved{}, err
	}

	host := strings.TrimPrefix(strings.TrimSuffix(cfg.Server, "]"), "[")

	return Resolved{
		TUN:        cfg.TUN,
		ServerHost: host,
		Port:       cfg.Port,
		PluginPath: cfg.Plugin,
		Plan:       plan,
		DNS:        dnsServers,
	}, nil
}

func (cfg Config) parseDNS() ([]netip.Addr, error) {
	if len(cfg.DNS) == 0 {
		return nil, fmt.Errorf("vpnconfig: dns is required")
	}

	var entries []string
	var asArray []string
	if err := json.Unmarshal(cfg.DNS, &asArray); err == nil {
		entries = asArray
	} else {
		var asString string
		if err := json.Unmarshal(cfg.DNS, &asString); err != nil {
			return nil, fmt.Errorf("vpnconfig: dns must be an array or CSV string")
		}
		for _, part := range strings.Split(asString, ",") {
			if part = strings.TrimSpace(part); part != "" {
				entries = append(entries, part)
			}
		}
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("vpnconfig: dns list is empty")
	}

	servers := make([]netip.Addr, 0, len(entries))
	for _, s := range entries {
		addr, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("vpnconfig: invalid dns entry %q", s)
		}
		servers = append(servers, addr)
	}
	return servers, nil
}
