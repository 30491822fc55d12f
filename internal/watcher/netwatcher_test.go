//go:build windows

package watcher

import (
	"testing"
	"time"
)

func newBareWatcher() *Watcher {
	return &Watcher{
		debounce: 50 * time.Millisecond,
		stopCh:   make(chan struct{}),
		kickCh:   make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}
}

func TestKickDeliversWhenNotSuppressed(t *testing.T) {
	w := newBareWatcher()
	w.kick()
	select {
	case <-w.kickCh:
	default:
		t.Fatal("expected kick to deliver to kickCh")
	}
}

func TestSuppressBlocksKick(t *testing.T) {
	w := newBareWatcher()
	w.Suppress(100 * time.Millisecond)
	w.kick()
	select {
	case <-w.kickCh:
		t.Fatal("expected kick to be suppressed")
	default:
	}
}

func TestKickCoalesces(t *testing.T) {
	w := newBareWatcher()
	w.kick()
	w.kick()
	w.kick()
	select {
	case <-w.kickCh:
	default:
		t.Fatal("expected at least one coalesced kick")
	}
	select {
	case <-w.kickCh:
		t.Fatal("expected only one pending kick in the buffered channel")
	default:
	}
}

func TestIsRunningDefaultsFalse(t *testing.T) {
	w := newBareWatcher()
	if w.IsRunning() {
		t.Fatal("expected IsRunning to be false before startCore")
	}
}
