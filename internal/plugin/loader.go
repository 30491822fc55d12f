//go:build windows

// Package plugin dynamically loads a transport plugin DLL and resolves its
// five required exports. Load is all-or-nothing: if any symbol is missing
// the library is unloaded and Load fails, rather than leaving a
// partially-usable plugin around.
package plugin

import (
	"fmt"
	"syscall"
	"unsafe"

	"flowforge/internal/corelog"

	"golang.org/x/sys/windows"
)

// ReceiveFunc fills buf with the next packet to send to the plugin's
// transport; it returns 0 when nothing is pending, a positive byte count,
// or -1 if the next packet would not fit in buf.
type ReceiveFunc func(buf []byte) int

// SendFunc delivers a decoded packet to the adapter; it returns the number
// of bytes accepted (0 means dropped).
type SendFunc func(buf []byte) int

const maxCallbackPacket = 65535

// Plugin is a loaded transport plugin with its five resolved entry points.
type Plugin struct {
	handle windows.Handle

	clientConnect    uintptr
	clientDisconnect uintptr
	clientServe      uintptr
	serverBind       uintptr
	serverServe      uintptr
}

func sym(h windows.Handle, name string) (uintptr, error) {
	addr, err := windows.GetProcAddress(h, name)
	if err != nil {
		return 0, fmt.Errorf("plugin: missing symbol %s: %w", name, err)
	}
	return addr, nil
}

// Load opens the DLL at path and resolves Client_Connect, Client_Disconnect,
// Client_Serve, Server_Bind, and Server_Serve. Any missing symbol unloads
// the library and returns an error.
func Load(path string) (*Plugin, error) {
	h, err := windows.LoadLibrary(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: LoadLibrary(%s): %w", path, err)
	}

	p := &Plugin{handle: h}
	names := []struct {
		name string
		dst  *uintptr
	}{
		{"Client_Connect", &p.clientConnect},
		{"Client_Disconnect", &p.clientDisconnect},
		{"Client_Serve", &p.clientServe},
		{"Server_Bind", &p.serverBind},
		{"Server_Serve", &p.serverServe},
	}
	for _, n := range names {
		addr, err := sym(h, n.name)
		if err != nil {
			windows.FreeLibrary(h)
			corelog.Log.Errorf("plugin", "load %s: %v", path, err)
			return nil, fmt.Errorf("plugin: load %s: %w", path, err)
		}
		*n.dst = addr
	}

	corelog.Log.Infof("plugin", "loaded %s", path)
	return p, nil
}

// Unload frees the plugin's library handle. Safe to call on an already
// unloaded Plugin.
func (p *Plugin) Unload() {
	if p.handle != 0 {
		windows.FreeLibrary(p.handle)
		p.handle = 0
		corelog.Log.Infof("plugin", "unloaded")
	}
}

func utf8JSONPtr(jsonConfig []byte) uintptr {
	b := append(append([]byte(nil), jsonConfig...), 0)
	return uintptr(unsafe.Pointer(&b[0]))
}

// ClientConnect calls the plugin's Client_Connect with a NUL-terminated
// JSON config blob, returning whether it accepted the configuration.
func (p *Plugin) ClientConnect(jsonConfig []byte) bool {
	r, _, _ := syscall.SyscallN(p.clientConnect, utf8JSONPtr(jsonConfig))
	return r != 0
}

// ClientDisconnect calls the plugin's Client_Disconnect.
func (p *Plugin) ClientDisconnect() {
	syscall.SyscallN(p.clientDisconnect)
}

// ServerBind calls the plugin's Server_Bind with a NUL-terminated JSON
// config blob, returning whether the bind succeeded.
func (p *Plugin) ServerBind(jsonConfig []byte) bool {
	r, _, _ := syscall.SyscallN(p.serverBind, utf8JSONPtr(jsonConfig))
	return r != 0
}

// serveTrampoline wires the recv/send Go closures to C-callable function
// pointers (via syscall.NewCallback), then invokes the resolved Serve
// export with the plugin ABI: recv_cb, send_cb, stop_flag_ptr. working is
// the same shared flag the lifecycle controller clears on Stop; the
// plugin is expected to poll *working itself between packets.
func serveTrampoline(serveFn uintptr, recv ReceiveFunc, send SendFunc, working *int32) int {
	recvBuf := make([]byte, maxCallbackPacket)
	sendBuf := make([]byte, maxCallbackPacket)

	recvCb := syscall.NewCallback(func(bufPtr uintptr, size uintptr) uintptr {
		n := recv(recvBuf[:min(int(size), maxCallbackPacket)])
		if n > 0 {
			dst := unsafe.Slice((*byte)(unsafe.Pointer(bufPtr)), int(size))
			copy(dst, recvBuf[:n])
		}
		return uintptr(int32(n))
	})
	sendCb := syscall.NewCallback(func(bufPtr uintptr, size uintptr) uintptr {
		src := unsafe.Slice((*byte)(unsafe.Pointer(bufPtr)), int(size))
		copy(sendBuf, src)
		n := send(sendBuf[:int(size)])
		return uintptr(int32(n))
	})

	r, _, _ := syscall.SyscallN(serveFn, recvCb, sendCb, uintptr(unsafe.Pointer(working)))
	return int(int32(r))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ClientServe runs the plugin's blocking Client_Serve loop, bridging
// packets through recv/send until the plugin returns (typically because
// *working was cleared).
func (p *Plugin) ClientServe(recv ReceiveFunc, send SendFunc, working *int32) int {
	return serveTrampoline(p.clientServe, recv, send, working)
}

// ServerServe runs the plugin's blocking Server_Serve loop.
func (p *Plugin) ServerServe(recv ReceiveFunc, send SendFunc, working *int32) int {
	return serveTrampoline(p.serverServe, recv, send, working)
}
