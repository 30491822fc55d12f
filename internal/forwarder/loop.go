//go:build windows

// Package forwarder bridges the WinTUN adapter session to a loaded
// transport plugin's Serve loop: receive_from_net pulls a packet out of
// the adapter's ring for the plugin to transmit, send_to_net pushes a
// packet the plugin decoded back onto the adapter.
package forwarder

import (
	"flowforge/internal/adapter"
	"flowforge/internal/corelog"
)

// debugPacketInfo logs a terse trace line identifying the IP version and,
// for v4, the source/destination addresses -- mirroring the original
// implementation's packet tracer used to sanity-check the tunnel path
// without a full capture tool.
func debugPacketInfo(data []byte, direction string) {
	if len(data) < 20 {
		return
	}
	version := data[0] >> 4
	switch version {
	case 4:
		corelog.Log.Debugf("tun", "[%s] IPv4: %d.%d.%d.%d -> %d.%d.%d.%d (len=%d)",
			direction,
			data[12], data[13], data[14], data[15],
			data[16], data[17], data[18], data[19],
			len(data))
	case 6:
		corelog.Log.Debugf("tun", "[%s] IPv6 packet (len=%d)", direction, len(data))
	default:
		corelog.Log.Warnf("tun", "[%s] unknown packet version=%d (len=%d)", direction, version, len(data))
	}
}

// Bridge owns the two callbacks (receive_from_net / send_to_net) the
// plugin's Serve entry point drives, each a thin adapter over the adapter
// session's non-blocking ring operations.
type Bridge struct {
	session *adapter.Session
}

// New returns a Bridge over session.
func New(session *adapter.Session) *Bridge {
	return &Bridge{session: session}
}

// ReceiveFromNet fills buf with the next packet waiting in the adapter's
// receive ring. Returns 0 if none is pending, -1 if the pending packet is
// larger than buf (fatal to the plugin, matching the original ABI), or the
// packet length on success.
func (b *Bridge) ReceiveFromNet(buf []byte) int {
	pktLen, ok := b.session.PollPacket(buf)
	if !ok {
		return 0
	}
	if pktLen > len(buf) {
		corelog.Log.Warnf("tun", "FROM_NET oversized pkt_size=%d > buf=%d", pktLen, len(buf))
		return -1
	}
	debugPacketInfo(buf[:pktLen], "FROM_NET")
	return pktLen
}

// SendToNet writes buf to the adapter's send ring. Returns the number of
// bytes accepted, or 0 if the ring was full (silently dropped, matching
// the original ABI).
func (b *Bridge) SendToNet(buf []byte) int {
	debugPacketInfo(buf, "TO_NET")
	if err := b.session.WritePacket(buf); err != nil {
		corelog.Log.Warnf("tun", "TO_NET drop: %v", err)
		return 0
	}
	return len(buf)
}
