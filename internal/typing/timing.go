package typing

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultInterval is the minimum spacing between repeated announcements of
	// the same state, and the idle period after which a state de-escalates.
	DefaultInterval = 2500 * time.Millisecond
	// DefaultQuietWindow is how long the keystroke adapter waits for a typing
	// burst to settle.
	DefaultQuietWindow = 50 * time.Millisecond
	// DefaultStaleness is how long a remote state survives without a refresh.
	DefaultStaleness = 6000 * time.Millisecond
	// DefaultSweepPeriod is how often stale remote states are collected.
	DefaultSweepPeriod = 5000 * time.Millisecond
)

// Timing holds the timer settings shared by the publisher, the aggregator and
// the keystroke adapter.
type Timing struct {
	Interval    time.Duration
	QuietWindow time.Duration
	Staleness   time.Duration
	SweepPeriod time.Duration
}

// DefaultTiming returns the standard timer settings.
func DefaultTiming() Timing {
	return Timing{
		Interval:    DefaultInterval,
		QuietWindow: DefaultQuietWindow,
		Staleness:   DefaultStaleness,
		SweepPeriod: DefaultSweepPeriod,
	}
}

// Validate checks that every duration is positive and that remote states
// outlive the publisher's resend interval.
func (t Timing) Validate() error {
	if t.Interval <= 0 || t.QuietWindow <= 0 || t.Staleness <= 0 || t.SweepPeriod <= 0 {
		return errors.New("typing timing values must be positive")
	}
	if t.Staleness <= t.Interval {
		return fmt.Errorf("staleness %v must exceed resend interval %v", t.Staleness, t.Interval)
	}
	return nil
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.Interval <= 0 {
		t.Interval = d.Interval
	}
	if t.QuietWindow <= 0 {
		t.QuietWindow = d.QuietWindow
	}
	if t.Staleness <= 0 {
		t.Staleness = d.Staleness
	}
	if t.SweepPeriod <= 0 {
		t.SweepPeriod = d.SweepPeriod
	}
	return t
}
