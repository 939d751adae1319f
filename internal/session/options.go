package session

import (
	"time"

	"codeberg.org/mutker/bmsmon/internal/logger"
)

const (
	DefaultInterval     = time.Second
	DefaultFetchTimeout = 5 * time.Second
	DefaultCellInterval = 1
)

// Option configures a Controller
type Option func(*Controller)

// WithInterval sets the pause between polls
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithFetchTimeout bounds each individual fetch
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithCellInterval fetches cell voltages every n polls. Zero disables it.
func WithCellInterval(n int) Option {
	return func(c *Controller) {
		if n >= 0 {
			c.cellInterval = n
		}
	}
}

// WithWaitForData asks the source to wait for a fresh frame on each poll
func WithWaitForData(wait bool) Option {
	return func(c *Controller) {
		c.waitForData = wait
	}
}

// WithRecorder records every published snapshot
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

// WithObserver sets a poll outcome observer
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger sets a logger
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}
