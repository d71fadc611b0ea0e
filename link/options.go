package link

import (
	"time"

	"github.com/mame82/dapflash/dap"
)

const (
	DefaultHaltTimeout   = 10 * time.Second
	DefaultReadRetries   = 20
	DefaultReadRetryWait = 20 * time.Millisecond
	DefaultPollInterval  = 5 * time.Millisecond
)

type config struct {
	haltTimeout   time.Duration
	readRetries   int
	readRetryWait time.Duration
	pollInterval  time.Duration
	portOptions   []dap.Option
}

func defaultConfig() config {
	return config{
		haltTimeout:   DefaultHaltTimeout,
		readRetries:   DefaultReadRetries,
		readRetryWait: DefaultReadRetryWait,
		pollInterval:  DefaultPollInterval,
	}
}

type Option func(*config)

// WithHaltTimeout sets the halt wait used by Reset and by WaitForHalt calls
// passing a zero timeout.
func WithHaltTimeout(d time.Duration) Option {
	return func(c *config) {
		c.haltTimeout = d
	}
}

// WithReadRetries bounds ReadMem32WithRetry.
func WithReadRetries(n int, wait time.Duration) Option {
	return func(c *config) {
		c.readRetries = n
		c.readRetryWait = wait
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		c.pollInterval = d
	}
}

// WithPortOptions is passed on to every dap.Port the link creates.
func WithPortOptions(opts ...dap.Option) Option {
	return func(c *config) {
		c.portOptions = append(c.portOptions, opts...)
	}
}
