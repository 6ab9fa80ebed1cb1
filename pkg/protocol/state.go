// Package protocol defines the typing-indicator signal and its wire encodings.
package protocol

import "fmt"

// TypingState represents what a user is doing with the message composer.
// The zero value is StateFinished.
type TypingState int

const (
	StateFinished TypingState = iota
	StateStarted
	StatePaused
)

// String returns the wire representation of TypingState
func (s TypingState) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StatePaused:
		return "paused"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the defined states.
func (s TypingState) Valid() bool {
	return s == StateStarted || s == StatePaused || s == StateFinished
}

// ParseTypingState parses a wire action.
func ParseTypingState(v string) (TypingState, error) {
	switch v {
	case "started":
		return StateStarted, nil
	case "paused":
		return StatePaused, nil
	case "finished":
		return StateFinished, nil
	default:
		return 0, fmt.Errorf("unknown typing action %q", v)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s TypingState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid typing state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TypingState) UnmarshalText(text []byte) error {
	parsed, err := ParseTypingState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
