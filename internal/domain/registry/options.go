package registry

import (
	"time"

	"github.com/juju/clock"
)

type config struct {
	metadataTTL time.Duration
	queueTTL    time.Duration
	clock       clock.Clock
}

func defaultConfig() config {
	return config{
		metadataTTL: 2 * time.Minute,
		queueTTL:    5 * time.Minute,
		clock:       clock.WallClock,
	}
}

// Option defines a functional configuration type for the Registry and the Queue.
type Option func(*config)

// WithMetadataTTL bounds how long a connection record outlives its last
// heartbeat. It must exceed the session heartbeat interval.
func WithMetadataTTL(d time.Duration) Option {
	return func(c *config) {
		c.metadataTTL = d
	}
}

// WithQueueTTL bounds the backlog of a connection that stopped draining
// without being deregistered.
func WithQueueTTL(d time.Duration) Option {
	return func(c *config) {
		c.queueTTL = d
	}
}

// WithClock replaces the wall clock used for heartbeat timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *config) {
		if clk != nil {
			c.clock = clk
		}
	}
}

func apply(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
