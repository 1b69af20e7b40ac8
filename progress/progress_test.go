package progress

import "testing"

func TestEmitDeliversInOrder(t *testing.T) {
	e := NewEmitter("run-1", 8)
	e.Emit(EventRunStart, "start", nil)
	e.Phase("phase one")
	e.Warn("careful")
	e.Close()

	var kinds []Kind
	for ev := range e.Events() {
		kinds = append(kinds, ev.Kind)
		if ev.RunID != "run-1" {
			t.Errorf("run id = %q", ev.RunID)
		}
	}
	want := []Kind{EventRunStart, EventPhase, EventWarning}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds = %v", kinds)
		}
	}
}

func TestEmitDropsWhenFull(t *testing.T) {
	e := NewEmitter("run-2", 1)
	e.Emit(EventPhase, "kept", nil)
	e.Emit(EventPhase, "dropped", nil) // must not block
	e.Close()

	n := 0
	for range e.Events() {
		n++
	}
	if n != 1 {
		t.Errorf("delivered %d events, want 1", n)
	}
}

func TestEmitAfterCloseIsSafe(t *testing.T) {
	e := NewEmitter("run-3", 1)
	e.Close()
	e.Emit(EventPhase, "late", nil)
	e.Close()
}
