package heartbeat

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/laststop/eventlog"
	"github.com/vinayprograms/laststop/logging"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Publisher appends a lifecycle message for this participant.
// *eventlog.Writer implements it.
type Publisher interface {
	Message(ctx context.Context, text string) (eventlog.Position, error)
}

// Status is what the monitor last learned about a participant.
type Status string

const (
	StatusStarted Status = "started"
	StatusAlive   Status = "alive"
	StatusExited  Status = "exited"
	StatusStale   Status = "stale"
)

// Participant is one process seen on the messages log, keyed by session id.
type Participant struct {
	SenderID string
	Sender   string
	Status   Status

	// Heartbeating is set once the participant has sent a heartbeat.
	// Only heartbeating participants can go stale.
	Heartbeating bool

	FirstSeen time.Time
	LastSeen  time.Time
}

// SenderConfig configures a heartbeat sender.
type SenderConfig struct {
	// Publisher appends the heartbeat messages.
	Publisher Publisher

	// Interval between heartbeats.
	// Default: 1 second
	Interval time.Duration

	// Timeout bounds each append.
	// Default: Interval
	Timeout time.Duration

	// Logger receives append failures.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Publisher == nil {
		return ErrInvalidConfig
	}
	if c.Interval < 0 || c.Timeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultSenderConfig returns configuration with sensible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Interval: time.Second,
	}
}

// MonitorConfig configures a participant monitor.
type MonitorConfig struct {
	// Self is this process's session id; its own entries are not tracked.
	Self string

	// Timeout for considering a heartbeating participant stale.
	// Should be 2-3x the expected heartbeat interval.
	// Default: 15 seconds
	Timeout time.Duration

	// CheckInterval for the staleness checker.
	// Default: 1 second
	CheckInterval time.Duration

	// Logger receives participant announcements.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *MonitorConfig) Validate() error {
	if c.Timeout < 0 || c.CheckInterval < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultMonitorConfig returns configuration with sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Timeout:       15 * time.Second,
		CheckInterval: 1 * time.Second,
	}
}
