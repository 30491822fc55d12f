//go:build windows

package network

import "testing"

func TestRevertTwiceIsLogicError(t *testing.T) {
	r := &Rollback{reverted: true}
	if err := r.Revert(); err == nil {
		t.Fatal("expected error reverting an already-reverted rollback")
	}
}

func TestRevertWithoutCaptureFails(t *testing.T) {
	r := &Rollback{}
	if err := r.Revert(); err == nil {
		t.Fatal("expected error reverting an uncaptured rollback")
	}
}
