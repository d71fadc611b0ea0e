package flash

import (
	"time"

	"github.com/mame82/dapflash/board"
)

const (
	DefaultResetTimeout    = time.Second
	DefaultFlashTimeout    = 2 * time.Minute
	DefaultPageTimeout     = 500 * time.Millisecond
	DefaultChecksumTimeout = 10 * time.Second
)

type config struct {
	progress        ProgressFunc
	resetTimeout    time.Duration
	flashTimeout    time.Duration
	pageTimeout     time.Duration
	checksumTimeout time.Duration
	lookup          func(id uint16) (board.Board, error)
	fill            byte
	forceFull       bool
}

func defaultConfig() config {
	return config{
		resetTimeout:    DefaultResetTimeout,
		flashTimeout:    DefaultFlashTimeout,
		pageTimeout:     DefaultPageTimeout,
		checksumTimeout: DefaultChecksumTimeout,
		lookup:          board.Lookup,
	}
}

type Option func(*config)

func WithProgress(fn ProgressFunc) Option {
	return func(c *config) {
		c.progress = fn
	}
}

// WithResetTimeout bounds the reset before flashing. A target not resetting
// in time is flashed completely.
func WithResetTimeout(d time.Duration) Option {
	return func(c *config) {
		c.resetTimeout = d
	}
}

// WithFlashTimeout bounds a whole Session.Flash call.
func WithFlashTimeout(d time.Duration) Option {
	return func(c *config) {
		c.flashTimeout = d
	}
}

// WithPageTimeout bounds programming of a single page.
func WithPageTimeout(d time.Duration) Option {
	return func(c *config) {
		c.pageTimeout = d
	}
}

func WithChecksumTimeout(d time.Duration) Option {
	return func(c *config) {
		c.checksumTimeout = d
	}
}

func WithBoardLookup(fn func(id uint16) (board.Board, error)) Option {
	return func(c *config) {
		c.lookup = fn
	}
}

// WithFill sets the byte used for gaps in the last page of an image.
func WithFill(fill byte) Option {
	return func(c *config) {
		c.fill = fill
	}
}

// WithForceFull skips the checksum comparison and always writes the whole
// image.
func WithForceFull(force bool) Option {
	return func(c *config) {
		c.forceFull = force
	}
}
