package live

import (
	"errors"
	"time"
)

const (
	DefaultInterval      = 5 * time.Second
	DefaultQueryTimeout  = 2 * time.Second
	DefaultMaxBackoff    = time.Minute
	DefaultRetryInterval = 10 * time.Second
)

var (
	// ErrPollerLimit is returned when MaxPollers pollers are already live.
	ErrPollerLimit = errors.New("poller limit reached")
	// ErrSupervisorClosed is returned by starts issued after Shutdown.
	ErrSupervisorClosed = errors.New("supervisor is shut down")
)

// Config tunes pollers and the registry retry loop. Zero fields take the
// defaults above; MaxPollers 0 means unlimited.
type Config struct {
	Interval      time.Duration
	QueryTimeout  time.Duration
	MaxBackoff    time.Duration
	RetryInterval time.Duration
	MaxPollers    int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.MaxBackoff < c.Interval {
		c.MaxBackoff = max(DefaultMaxBackoff, c.Interval)
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	return c
}
