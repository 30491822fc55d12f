//go:build windows

// Package watcher debounces and coalesces Windows network-change
// notifications (interface and route changes) into a single reapply
// callback, so a burst of adapter churn during network topology changes
// produces one reconfiguration pass instead of many.
package watcher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"flowforge/internal/corelog"

	"golang.org/x/sys/windows"
)

var (
	modIPHlpAPI                    = windows.NewLazySystemDLL("iphlpapi.dll")
	procNotifyIpInterfaceChange    = modIPHlpAPI.NewProc("NotifyIpInterfaceChange")
	procNotifyRouteChange2         = modIPHlpAPI.NewProc("NotifyRouteChange2")
	procCancelMibChangeNotify2     = modIPHlpAPI.NewProc("CancelMibChangeNotify2")
)

const afUnspec = 0

// ReapplyFunc is invoked on the watcher's own goroutine after a burst of
// network-change notifications has settled.
type ReapplyFunc func()

// Watcher subscribes to IP interface and route change notifications and
// calls a reapply function once activity has been quiet for Debounce,
// coalescing any number of notifications that arrive during that window
// into a single call.
type Watcher struct {
	debounce time.Duration
	reapply  ReapplyFunc

	mu            sync.Mutex
	ifHandle      windows.Handle
	routeHandle   windows.Handle
	started       bool
	stopCh        chan struct{}
	kickCh        chan struct{}
	doneCh        chan struct{}
	suppressUntil atomic.Int64 // unix nanos

	ifCallback    uintptr
	routeCallback uintptr
}

// New creates a Watcher and immediately starts its subscriptions and
// background goroutine. debounce is the quiet period required before a
// burst of changes triggers one reapply call.
func New(debounce time.Duration, reapply ReapplyFunc) (*Watcher, error) {
	w := &Watcher{
		debounce: debounce,
		reapply:  reapply,
		stopCh:   make(chan struct{}),
		kickCh:   make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}
	if err := w.startCore(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Watcher) startCore() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("watcher: already started")
	}

	w.ifCallback = syscall.NewCallback(func(ctx uintptr, _ uintptr, _ uint32) uintptr {
		w.kick()
		return 0
	})
	w.routeCallback = syscall.NewCallback(func(ctx uintptr, _ uintptr, _ uint32) uintptr {
		w.kick()
		return 0
	})

	var ifHandle windows.Handle
	r, _, _ := procNotifyIpInterfaceChange.Call(
		uintptr(afUnspec), w.ifCallback, 0, 0, uintptr(unsafe.Pointer(&ifHandle)),
	)
	if r != 0 {
		return fmt.Errorf("watcher: NotifyIpInterfaceChange: 0x%x", r)
	}
	w.ifHandle = ifHandle

	var routeHandle windows.Handle
	r, _, _ = procNotifyRouteChange2.Call(
		uintptr(afUnspec), w.routeCallback, 0, 0, uintptr(unsafe.Pointer(&routeHandle)),
	)
	if r != 0 {
		procCancelMibChangeNotify2.Call(uintptr(w.ifHandle))
		w.ifHandle = 0
		return fmt.Errorf("watcher: NotifyRouteChange2: 0x%x", r)
	}
	w.routeHandle = routeHandle

	go w.run()
	w.started = true
	corelog.Log.Infof("watcher", "started, debounce=%s", w.debounce)
	return nil
}

// Suppress silences reapply-triggering kicks for dur. debounceLoop calls it
// right before reapply runs so the route/address changes reapply makes
// don't immediately re-trigger a kick.
func (w *Watcher) Suppress(dur time.Duration) {
	w.suppressUntil.Store(time.Now().Add(dur).UnixNano())
}

func (w *Watcher) kick() {
	if time.Now().UnixNano() < w.suppressUntil.Load() {
		return
	}
	select {
	case w.kickCh <- struct{}{}:
	default:
	}
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.kickCh:
			corelog.Log.Debugf("watcher", "kick received, debouncing %s", w.debounce)
			w.debounceLoop()
		}
	}
}

// debounceLoop waits for quiet on kickCh for the debounce window, coalescing
// any further kicks into a restarted wait, then fires reapply exactly once.
func (w *Watcher) debounceLoop() {
	timer := time.NewTimer(w.debounce)
	defer timer.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.kickCh:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			w.Suppress(w.debounce)
			func() {
				defer func() {
					if r := recover(); r != nil {
						corelog.Log.Errorf("watcher", "reapply panicked: %v", r)
					}
				}()
				if w.reapply != nil {
					corelog.Log.Infof("watcher", "debounce settled, reapplying")
					w.reapply()
				}
			}()
			return
		}
	}
}

// IsRunning reports whether the watcher's subscriptions and goroutine are
// active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Stop cancels both MIB subscriptions, signals the worker goroutine to
// exit, and waits for it to finish. Calling Stop twice is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}

	if w.ifHandle != 0 {
		procCancelMibChangeNotify2.Call(uintptr(w.ifHandle))
		w.ifHandle = 0
	}
	if w.routeHandle != 0 {
		procCancelMibChangeNotify2.Call(uintptr(w.routeHandle))
		w.routeHandle = 0
	}

	close(w.stopCh)
	<-w.doneCh
	w.started = false
	corelog.Log.Infof("watcher", "stopped")
}
