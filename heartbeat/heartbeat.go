package heartbeat

import (
	"errors"
	"time"

	"github.com/vinayprograms/cellbus/logging"
	"github.com/vinayprograms/cellbus/registry"
)

var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("heartbeat: registry is required")
)

// MinInterval is the shortest refresh interval IntervalFor returns.
const MinInterval = time.Second

// IntervalFor renews an entry three times per directory TTL, never faster
// than MinInterval. Entries under a zero TTL never expire and get the
// default interval.
func IntervalFor(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return DefaultSenderConfig().Interval
	case ttl/3 < MinInterval:
		return MinInterval
	default:
		return ttl / 3
	}
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	Registry registry.Registry

	// Interval between refreshes. Default 10s.
	Interval time.Duration

	// Logger reports failed refreshes. Nil discards.
	Logger *logging.Logger
}

func (c *SenderConfig) Validate() error {
	if c.Registry == nil {
		return ErrInvalidConfig
	}
	return nil
}

func DefaultSenderConfig() SenderConfig {
	return SenderConfig{Interval: 10 * time.Second}
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Registry registry.Registry

	// Timeout after which a silent cell is presumed dead. Pick two to three
	// refresh intervals. Default 30s.
	Timeout time.Duration

	// CheckInterval between scans for dead cells. Default 1s.
	CheckInterval time.Duration
}

func (c *MonitorConfig) Validate() error {
	if c.Registry == nil {
		return ErrInvalidConfig
	}
	return nil
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Timeout:       30 * time.Second,
		CheckInterval: time.Second,
	}
}
