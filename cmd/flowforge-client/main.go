//go:build windows

// Command flowforge-client is a CLI wrapper around the lifecycle
// controller: it loads a JSON tunnel configuration from disk, starts the
// orchestrator in-process, and maps SIGINT/SIGTERM to a clean Stop.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"flowforge/internal/corelog"
	"flowforge/internal/lifecycle"
)

func main() {
	configPath := flag.String("config", "flowforge.json", "Path to the JSON tunnel configuration")
	logConfigPath := flag.String("logconfig", "", "Path to an optional YAML logging-level config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("flowforge-client (dev)")
		os.Exit(0)
	}

	if *logConfigPath != "" {
		cfg, err := corelog.LoadConfig(resolveRelativeToExe(*logConfigPath))
		if err != nil {
			corelog.Log.Fatalf("client", "load log config: %v", err)
		}
		corelog.Log = corelog.New(cfg)
	}

	resolved := resolveRelativeToExe(*configPath)
	configText, err := os.ReadFile(resolved)
	if err != nil {
		corelog.Log.Fatalf("client", "read config %s: %v", resolved, err)
	}

	ctrl := lifecycle.New()
	if code := ctrl.Start(string(configText)); code != 0 {
		corelog.Log.Fatalf("client", "Start failed, code=%d", code)
	}
	corelog.Log.Infof("client", "tunnel started, press Ctrl+C to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	corelog.Log.Infof("client", "shutdown requested")
	if code := ctrl.Stop(); code != 0 {
		corelog.Log.Warnf("client", "Stop returned code=%d", code)
	}

	deadline := time.After(10 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for ctrl.IsRunning() {
		select {
		case <-ticker.C:
		case <-deadline:
			corelog.Log.Warnf("client", "shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}
	corelog.Log.Infof("client", "shutdown complete")
}

// resolveRelativeToExe resolves a relative path against the directory
// containing the running executable. Absolute paths are returned unchanged.
func resolveRelativeToExe(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	exe, err := os.Executable()
	if err != nil {
		corelog.Log.Warnf("client", "cannot determine executable path, using %q as-is: %v", path, err)
		return path
	}
	return filepath.Join(filepath.Dir(exe), path)
}
