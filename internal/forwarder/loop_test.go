//go:build windows

package forwarder

import "testing"

func TestDebugPacketInfoDoesNotPanic(t *testing.T) {
	ipv4 := []byte{0x45, 0x00, 0x00, 0x14, 0, 0, 0, 0, 64, 6, 0, 0, 10, 200, 0, 2, 10, 200, 0, 1}
	ipv6 := make([]byte, 40)
	ipv6[0] = 0x60
	tooShort := []byte{1, 2, 3}
	unknown := make([]byte, 20)
	unknown[0] = 0x70

	for _, pkt := range [][]byte{ipv4, ipv6, tooShort, unknown} {
		debugPacketInfo(pkt, "TEST")
	}
}
