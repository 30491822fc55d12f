package corelog

import "testing"

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"Debug":   LevelDebug,
		"":        LevelInfo,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"off":     LevelOff,
		"none":    LevelOff,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLevelForComponentOverride(t *testing.T) {
	l := New(Config{
		Level:      "error",
		Components: map[string]string{"watcher": "debug"},
	})
	if got := l.levelFor("watcher"); got != LevelDebug {
		t.Errorf("levelFor(watcher) = %v, want LevelDebug", got)
	}
	if got := l.levelFor("firewall"); got != LevelError {
		t.Errorf("levelFor(firewall) = %v, want LevelError (global default)", got)
	}
}
