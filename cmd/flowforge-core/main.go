//go:build windows

// Command flowforge-core builds as a C shared library (-buildmode=c-shared)
// exporting the lifecycle controller's three-function ABI: Start, Stop, and
// IsRunning. A host process (a GUI or a third-party integrator) loads this
// DLL directly; cmd/flowforge-client does not, it runs the lifecycle
// controller in-process.
package main

// #include <stdlib.h>
import "C"

import (
	"os"

	"flowforge/internal/corelog"
	"flowforge/internal/lifecycle"
)

var controller = lifecycle.New()

// init applies a YAML logging-level config, if FLOWFORGE_LOGCONFIG names
// one, before any host process can call Start. A c-shared library has no
// command-line flags of its own, so the host passes this by environment.
func init() {
	path := os.Getenv("FLOWFORGE_LOGCONFIG")
	if path == "" {
		return
	}
	cfg, err := corelog.LoadConfig(path)
	if err != nil {
		corelog.Log.Warnf("core", "load log config %s: %v", path, err)
		return
	}
	corelog.Log = corelog.New(cfg)
}

//export Start
//
// Start launches the orchestrator from json, a NUL-terminated UTF-8
// configuration document. Returns 0 on success, -1 if already running.
func Start(json *C.char) C.int {
	cfg := C.GoString(json)
	corelog.Log.Infof("core", "Start requested")
	return C.int(controller.Start(cfg))
}

//export Stop
//
// Stop signals the running orchestrator to exit and returns immediately;
// the worker is joined on a detached goroutine. Returns 0 if a stop was
// signaled, -2 if nothing was running.
func Stop() C.int {
	corelog.Log.Infof("core", "Stop requested")
	return C.int(controller.Stop())
}

//export IsRunning
//
// IsRunning reports whether the orchestrator is currently started.
func IsRunning() C.int {
	if controller.IsRunning() {
		return 1
	}
	return 0
}

// main is a stub required by cgo when building a c-shared library.
func main() {}
