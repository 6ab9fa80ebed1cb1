package typing

import (
	"github.com/sirupsen/logrus"

	"github.com/omochice/typing-indicator/internal/clock"
)

// Option configures a component.
type Option func(*options)

type options struct {
	clock  clock.Clock
	log    logrus.FieldLogger
	timing Timing
	userID string
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTiming overrides timer settings; zero fields keep their defaults.
func WithTiming(t Timing) Option {
	return func(o *options) {
		o.timing = t.withDefaults()
	}
}

// WithUserID sets the local user's id. The publisher includes it in outgoing
// signals and the aggregator ignores inbound signals carrying it.
func WithUserID(id string) Option {
	return func(o *options) {
		o.userID = id
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:  clock.Real(),
		log:    logrus.StandardLogger(),
		timing: DefaultTiming(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
