package protocol

import "testing"

func TestActionWireConversion(t *testing.T) {
	tests := []struct {
		name  string
		state TypingState
		wire  uint64
	}{
		{"started", StateStarted, actionStarted},
		{"paused", StatePaused, actionPaused},
		{"finished", StateFinished, actionFinished},
	}

	for _, tt := range tests {
		t.Run(tt.name+" to wire", func(t *testing.T) {
			if got := actionToWire(tt.state); got != tt.wire {
				t.Errorf("actionToWire(%v) = %v, want %v", tt.state, got, tt.wire)
			}
		})

		t.Run(tt.name+" from wire", func(t *testing.T) {
			got, ok := actionFromWire(tt.wire)
			if !ok || got != tt.state {
				t.Errorf("actionFromWire(%v) = %v, %v, want %v", tt.wire, got, ok, tt.state)
			}
		})
	}

	if _, ok := actionFromWire(actionUnspecified); ok {
		t.Error("actionFromWire(unspecified) should fail")
	}
	if got := actionToWire(TypingState(42)); got != actionUnspecified {
		t.Errorf("actionToWire(42) = %v, want unspecified", got)
	}
}
