// Package corelog provides the per-component, level-filtered logger used
// throughout the orchestrator: one tag per component (adapter, network,
// firewall, dns, watcher, plugin, tun for the forwarder, lifecycle), independently
// tunable against a global default.
package corelog

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

// Config holds logging configuration, typically loaded from a small YAML
// sidecar file kept separate from the per-run JSON tunnel configuration.
type Config struct {
	Level      string            `yaml:"level,omitempty"`
	Components map[string]string `yaml:"components,omitempty"`
}

// Logger provides per-component log level filtering over the standard
// library logger.
type Logger struct {
	mu          sync.RWMutex
	globalLevel Level
	components  map[string]Level // lowercase component name -> level
}

// ParseLevel converts a level name to Level. Unrecognized values map to
// LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "off", "none":
		return LevelOff
	default:
		return LevelInfo
	}
}

// LoadConfig reads a YAML logging-level sidecar file from path and decodes
// it into a Config. Callers typically pass the result to New and assign it
// to Log before starting the orchestrator.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("corelog: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("corelog: parse %s: %w", path, err)
	}
	return cfg, nil
}

// New creates a Logger from config.
func New(cfg Config) *Logger {
	l := &Logger{
		globalLevel: ParseLevel(cfg.Level),
		components:  make(map[string]Level, len(cfg.Components)),
	}
	for name, level := range cfg.Components {
		l.components[strings.ToLower(name)] = ParseLevel(level)
	}
	return l
}

// SetLevel replaces the global level at runtime.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.globalLevel = level
}

func (l *Logger) levelFor(tag string) Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if lvl, ok := l.components[strings.ToLower(tag)]; ok {
		return lvl
	}
	return l.globalLevel
}

func (l *Logger) Debugf(tag, format string, args ...any) {
	if l.levelFor(tag) <= LevelDebug {
		log.Printf("["+tag+"] "+format, args...)
	}
}

func (l *Logger) Infof(tag, format string, args ...any) {
	if l.levelFor(tag) <= LevelInfo {
		log.Printf("["+tag+"] "+format, args...)
	}
}

func (l *Logger) Warnf(tag, format string, args ...any) {
	if l.levelFor(tag) <= LevelWarn {
		log.Printf("["+tag+"] "+format, args...)
	}
}

func (l *Logger) Errorf(tag, format string, args ...any) {
	if l.levelFor(tag) <= LevelError {
		log.Printf("["+tag+"] "+format, args...)
	}
}

// Fatalf always logs regardless of level and terminates the process with
// exit code 1. The lifecycle controller does not call it (a missing
// elevation is returned as an error); cmd/flowforge-client uses it for its
// own startup failures, before Start has made any OS-visible change.
func (l *Logger) Fatalf(tag, format string, args ...any) {
	log.Printf("["+tag+"] "+format, args...)
	os.Exit(1)
}

// Log is the package-level logger instance, defaulting to info level until
// a config file overrides it via SetLevel or a fresh New.
var Log = New(Config{})
