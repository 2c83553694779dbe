package shutdown

import (
	"testing"
	"time"
)

func resetBroadcaster() {
	mu.Lock()
	interrupted = false
	active = make(map[*Signal]struct{})
	mu.Unlock()
}

func TestSignalSet(t *testing.T) {
	t.Cleanup(resetBroadcaster)
	s := New()
	defer s.Release()

	if s.IsSet() {
		t.Fatal("fresh signal is already set")
	}
	if s.Context().Err() != nil {
		t.Fatal("fresh signal context is already cancelled")
	}
	s.Set()
	if !s.IsSet() {
		t.Fatal("signal not set after Set")
	}
	if s.Context().Err() == nil {
		t.Fatal("signal context not cancelled after Set")
	}
	s.Set() // idempotent
	if !s.IsSet() {
		t.Fatal("signal lost its set state")
	}
}

func TestSignalDoneUnblocks(t *testing.T) {
	t.Cleanup(resetBroadcaster)
	s := New()
	defer s.Release()

	unblocked := make(chan struct{})
	go func() {
		<-s.Done()
		close(unblocked)
	}()
	s.Set()
	select {
	case <-unblocked:
	case <-time.After(5 * time.Second):
		t.Fatal("Done channel never closed after Set")
	}
}

func TestFireAllSetsActiveSignals(t *testing.T) {
	t.Cleanup(resetBroadcaster)
	first := New()
	second := New()
	defer first.Release()
	defer second.Release()

	fireAll()
	if !first.IsSet() || !second.IsSet() {
		t.Fatal("active signals survived an interrupt")
	}

	// Signals created after the interrupt start set
	late := New()
	defer late.Release()
	if !late.IsSet() {
		t.Fatal("signal created after interrupt is not set")
	}
}

func TestReleasedSignalIgnoresInterrupt(t *testing.T) {
	t.Cleanup(resetBroadcaster)
	s := New()
	s.Release()

	fireAll()
	if s.IsSet() {
		t.Fatal("released signal was set by the broadcaster")
	}
}
