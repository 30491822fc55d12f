//go:build windows

// Command flowforge-plugin-echo is a minimal reference transport plugin,
// built as a C shared library (-buildmode=c-shared), implementing the five
// required ABI symbols as a loopback: every packet handed to it via
// receive_from_net is queued straight back out through send_to_net,
// without touching a real network socket. It exists to exercise the
// plugin loader and forwarding bridge against something real.
package main

// #include <stddef.h>
//
// typedef long long echo_ssize_t;
// typedef echo_ssize_t (*echo_recv_cb)(unsigned char *buf, size_t size);
// typedef echo_ssize_t (*echo_send_cb)(const unsigned char *buf, size_t size);
//
// static echo_ssize_t echo_call_recv(echo_recv_cb f, unsigned char *buf, size_t size) {
//     return f(buf, size);
// }
// static echo_ssize_t echo_call_send(echo_send_cb f, unsigned char *buf, size_t size) {
//     return f(buf, size);
// }
import "C"

import (
	"encoding/json"
	"time"
	"unsafe"

	"flowforge/internal/corelog"
)

const maxPacket = 65535

var bound bool

//export Client_Connect
func Client_Connect(configJSON *C.char) C.int {
	var cfg map[string]any
	_ = json.Unmarshal([]byte(C.GoString(configJSON)), &cfg)
	corelog.Log.Infof("echoplugin", "Client_Connect config=%v", cfg)
	return 1
}

//export Client_Disconnect
func Client_Disconnect() {
	corelog.Log.Infof("echoplugin", "Client_Disconnect")
}

//export Server_Bind
func Server_Bind(configJSON *C.char) C.int {
	var cfg map[string]any
	_ = json.Unmarshal([]byte(C.GoString(configJSON)), &cfg)
	corelog.Log.Infof("echoplugin", "Server_Bind config=%v", cfg)
	bound = true
	return 1
}

// serve is the shared loop body for Client_Serve/Server_Serve: poll
// receive_from_net, and whatever came back goes straight to send_to_net.
// Sleeps briefly between empty polls so the loop does not spin the CPU
// while idle, matching the poll-like cadence the adapter's non-blocking
// receive already implies. working is the host's native int32 stop flag,
// not the 1-byte flag the ABI first describes -- loader.go passes a
// pointer to its own int32, so the plugin side must read the same width.
func serve(recv C.echo_recv_cb, send C.echo_send_cb, working *C.int) C.int {
	buf := make([]byte, maxPacket)
	cbuf := (*C.uchar)(unsafe.Pointer(&buf[0]))

	for *working != 0 {
		n := int(C.echo_call_recv(recv, cbuf, C.size_t(maxPacket)))
		switch {
		case n < 0:
			corelog.Log.Warnf("echoplugin", "receive_from_net reported oversized packet")
			continue
		case n == 0:
			time.Sleep(2 * time.Millisecond)
			continue
		default:
			C.echo_call_send(send, cbuf, C.size_t(n))
		}
	}
	return 0
}

//export Client_Serve
func Client_Serve(recv C.echo_recv_cb, send C.echo_send_cb, working *C.int) C.int {
	corelog.Log.Infof("echoplugin", "Client_Serve starting")
	rc := serve(recv, send, working)
	corelog.Log.Infof("echoplugin", "Client_Serve exiting rc=%d", rc)
	return rc
}

//export Server_Serve
func Server_Serve(recv C.echo_recv_cb, send C.echo_send_cb, working *C.int) C.int {
	corelog.Log.Infof("echoplugin", "Server_Serve starting bound=%v", bound)
	rc := serve(recv, send, working)
	corelog.Log.Infof("echoplugin", "Server_Serve exiting rc=%d", rc)
	return rc
}

// main is a stub required by cgo when building a c-shared library.
func main() {}
