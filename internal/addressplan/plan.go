// Package addressplan holds the immutable tunnel addressing record shared
// by the adapter session, the network configurator, and rollback.
package addressplan

import (
	"fmt"
	"net/netip"
)

const (
	MinMTU = 576
	MaxMTU = 9200
)

// Plan is the resolved, validated address assignment for a tunnel session.
// It replaces the file-scope globals the original implementation kept for
// the local/peer addresses and MTU: every component that needs one is
// handed a Plan value explicitly instead of reaching into shared state.
type Plan struct {
	Local4 netip.Addr
	Peer4  netip.Addr
	Local6 netip.Addr
	Peer6  netip.Addr
	MTU    int
}

// HasV4 reports whether the plan carries a valid IPv4 pair.
func (p Plan) HasV4() bool {
	return p.Local4.IsValid() && p.Peer4.IsValid()
}

// HasV6 reports whether the plan carries a valid IPv6 pair.
func (p Plan) HasV6() bool {
	return p.Local6.IsValid() && p.Peer6.IsValid()
}

// Parse validates the textual fields of a plan request. Each address field
// is optional; blank strings leave the corresponding Addr invalid. MTU is
// required and must fall within [MinMTU, MaxMTU] -- matching the wider,
// authoritative bound used at the outer configuration boundary rather than
// the narrower internal check the original configurator also carried.
func Parse(local4, peer4, local6, peer6 string, mtu int) (Plan, error) {
	var p Plan
	var err error

	if local4 != "" {
		if p.Local4, err = netip.ParseAddr(local4); err != nil || !p.Local4.Is4() {
			return Plan{}, fmt.Errorf("addressplan: invalid local4 %q", local4)
		}
	}
	if peer4 != "" {
		if p.Peer4, err = netip.ParseAddr(peer4); err != nil || !p.Peer4.Is4() {
			return Plan{}, fmt.Errorf("addressplan: invalid peer4 %q", peer4)
		}
	}
	if local6 != "" {
		if p.Local6, err = netip.ParseAddr(local6); err != nil || !p.Local6.Is6() {
			return Plan{}, fmt.Errorf("addressplan: invalid local6 %q", local6)
		}
	}
	if peer6 != "" {
		if p.Peer6, err = netip.ParseAddr(peer6); err != nil || !p.Peer6.Is6() {
			return Plan{}, fmt.Errorf("addressplan: invalid peer6 %q", peer6)
		}
	}
	if (p.Local4.IsValid()) != (p.Peer4.IsValid()) {
		return Plan{}, fmt.Errorf("addressplan: local4/peer4 must both be set or both empty")
	}
	if (p.Local6.IsValid()) != (p.Peer6.IsValid()) {
		return Plan{}, fmt.Errorf("addressplan: local6/peer6 must both be set or both empty")
	}
	if !p.HasV4() && !p.HasV6() {
		return Plan{}, fmt.Errorf("addressplan: at least one address family is required")
	}
	if mtu < MinMTU || mtu > MaxMTU {
		return Plan{}, fmt.Errorf("addressplan: mtu %d out of range [%d, %d]", mtu, MinMTU, MaxMTU)
	}
	p.MTU = mtu
	return p, nil
}
