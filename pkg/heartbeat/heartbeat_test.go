package heartbeat

import (
	"testing"
	"time"
)

func TestLocalSourceTicksWithinWindow(t *testing.T) {
	s := NewLocal(5*time.Millisecond, 15*time.Millisecond)
	defer s.Close()

	select {
	case <-s.Ticks():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected a tick within the configured window")
	}
}

func TestLocalSourceClosesTicksOnClose(t *testing.T) {
	s := NewLocal(time.Hour, time.Hour)
	s.Close()

	select {
	case _, ok := <-s.Ticks():
		if ok {
			t.Fatal("expected Ticks to be closed after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Ticks to close")
	}
}

func TestLocalSourceDisabledProducesNoTicks(t *testing.T) {
	s := NewLocal(0, 0)
	defer s.Close()

	select {
	case <-s.Ticks():
		t.Fatal("expected no ticks while max interval is 0")
	case <-time.After(50 * time.Millisecond):
	}
}
