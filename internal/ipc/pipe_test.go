//go:build windows

package ipc

import (
	"testing"

	"flowforge/internal/lifecycle"
)

func TestDispatchStatusWhenIdle(t *testing.T) {
	s := &Server{ctrl: lifecycle.New()}
	resp := s.dispatch(request{Verb: "status"})
	if resp.Code != 0 || resp.Running {
		t.Fatalf("dispatch(status) on idle controller = %+v", resp)
	}
}

func TestDispatchStopBeforeStart(t *testing.T) {
	s := &Server{ctrl: lifecycle.New()}
	resp := s.dispatch(request{Verb: "stop"})
	if resp.Code != -2 {
		t.Fatalf("dispatch(stop) before start = %+v, want code -2", resp)
	}
}

func TestDispatchUnknownVerb(t *testing.T) {
	s := &Server{ctrl: lifecycle.New()}
	resp := s.dispatch(request{Verb: "bogus"})
	if resp.Error == "" {
		t.Fatal("expected an error for an unknown verb")
	}
}
