package dap

import "time"

const (
	DefaultClock          = 4000000
	DefaultWaitRetryDelay = 100 * time.Millisecond
	DefaultPacketSize     = 64
)

type config struct {
	clock          uint32
	waitRetryDelay time.Duration
	showInOut      bool
}

func defaultConfig() config {
	return config{
		clock:          DefaultClock,
		waitRetryDelay: DefaultWaitRetryDelay,
	}
}

type Option func(*config)

// WithClock sets the SWD clock in Hz.
func WithClock(hz uint32) Option {
	return func(c *config) {
		c.clock = hz
	}
}

// WithWaitRetryDelay sets the pause before a block write answered with WAIT
// is resent.
func WithWaitRetryDelay(d time.Duration) Option {
	return func(c *config) {
		c.waitRetryDelay = d
	}
}

func WithShowInOut(show bool) Option {
	return func(c *config) {
		c.showInOut = show
	}
}
