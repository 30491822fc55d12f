//go:build windows

package adapter

import "testing"

func TestRequestedGUIDIsStable(t *testing.T) {
	// The adapter identity must not change between runs, otherwise every
	// Start mints a fresh virtual interface instead of reusing one.
	first := requestedGUID
	second := requestedGUID
	if first != second {
		t.Fatal("requestedGUID is not a stable constant value")
	}
	if first.Data1 == 0 {
		t.Fatal("requestedGUID looks zero-valued")
	}
}

func TestMaxPacketSizeMatchesConstant(t *testing.T) {
	if MaxPacketSize != maxPacketSize {
		t.Fatalf("MaxPacketSize = %d, want %d", MaxPacketSize, maxPacketSize)
	}
}
