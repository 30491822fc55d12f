//go:build windows

// Package adapter owns the WinTUN adapter session: opening or creating the
// virtual interface, and the packet read/write primitives: a blocking
// ReadPacket, plus the non-blocking PollPacket/WritePacket pair the
// forwarding loop drives.
package adapter

import (
	"fmt"
	"runtime"

	"flowforge/internal/corelog"

	"golang.org/x/sys/windows"
	"golang.zx2c4.com/wintun"
)

const (
	adapterType   = "FlowForge"
	ringCapacity  = 0x1000000 // 16 MiB ring buffer
	maxPacketSize = 65535
)

// requestedGUID is fixed so the adapter keeps a stable identity across
// restarts instead of Windows minting a fresh one every run.
var requestedGUID = windows.GUID{
	Data1: 0xF10F0906,
	Data2: 0x7006,
	Data3: 0x4A6E,
	Data4: [8]byte{0x9C, 0x1D, 0x2E, 0x51, 0x7A, 0x3F, 0x88, 0x02},
}

// Session wraps an open WinTUN adapter and its packet ring session.
type Session struct {
	wt       *wintun.Adapter
	session  wintun.Session
	readWait windows.Handle
	luid     uint64
}

// Open opens the named adapter if it already exists, creating it otherwise.
// This makes repeated Start/Stop cycles on the same machine idempotent
// instead of accumulating orphaned adapters.
func Open(name string) (*Session, error) {
	wt, err := wintun.OpenAdapter(name)
	if err != nil {
		wt, err = wintun.CreateAdapter(name, adapterType, &requestedGUID)
		if err != nil {
			return nil, fmt.Errorf("adapter: create: %w", err)
		}
	}

	session, err := wt.StartSession(ringCapacity)
	if err != nil {
		wt.Close()
		return nil, fmt.Errorf("adapter: start session: %w", err)
	}

	s := &Session{
		wt:       wt,
		session:  session,
		readWait: session.ReadWaitEvent(),
		luid:     wt.LUID(),
	}
	corelog.Log.Infof("adapter", "session open (luid=0x%x)", s.luid)
	return s, nil
}

// LUID returns the adapter's locally unique identifier, the handle every
// other component uses to address this interface.
func (s *Session) LUID() uint64 { return s.luid }

// ReadPacket reads one IP packet into buf, blocking until one is available
// or the session ends. Returns the number of bytes written into buf.
func (s *Session) ReadPacket(buf []byte) (int, error) {
	for {
		pkt, err := s.session.ReceivePacket()
		if err == nil {
			n := copy(buf, pkt)
			s.session.ReleaseReceivePacket(pkt)
			return n, nil
		}
		if errno, ok := err.(windows.Errno); ok && errno == windows.ERROR_NO_MORE_ITEMS {
			r, _ := windows.WaitForSingleObject(s.readWait, windows.INFINITE)
			if r != windows.WAIT_OBJECT_0 {
				return 0, fmt.Errorf("adapter: wait failed: %d", r)
			}
			continue
		}
		return 0, fmt.Errorf("adapter: receive: %w", err)
	}
}

// PollPacket attempts to read one packet without blocking, matching the
// non-blocking, poll-like receive primitive the plugin ABI's
// receive_from_net callback is built on. ok is false when no packet was
// pending. When ok is true, pktLen is the full packet size; if it exceeds
// len(buf) nothing is copied (the caller treats this as the oversized
// case), otherwise exactly pktLen bytes are copied into buf. The packet is
// always released back to the ring before returning.
func (s *Session) PollPacket(buf []byte) (pktLen int, ok bool) {
	pkt, err := s.session.ReceivePacket()
	if err != nil {
		return 0, false
	}
	pktLen = len(pkt)
	if pktLen <= len(buf) {
		copy(buf, pkt)
	}
	s.session.ReleaseReceivePacket(pkt)
	return pktLen, true
}

// WritePacket writes one IP packet to the adapter, retrying once after a
// scheduler yield if the send ring is momentarily full.
func (s *Session) WritePacket(pkt []byte) error {
	buf, err := s.session.AllocateSendPacket(len(pkt))
	if err != nil {
		runtime.Gosched()
		buf, err = s.session.AllocateSendPacket(len(pkt))
		if err != nil {
			return fmt.Errorf("adapter: send ring full: %w", err)
		}
	}
	copy(buf, pkt)
	s.session.SendPacket(buf)
	return nil
}

// Close tears down the ring session and the adapter handle.
func (s *Session) Close() error {
	s.session.End()
	s.wt.Close()
	corelog.Log.Infof("adapter", "session closed")
	return nil
}

// MaxPacketSize is the largest frame the forwarding loop should allocate
// for a single read.
const MaxPacketSize = maxPacketSize
