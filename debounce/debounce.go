// Package debounce coalesces bursts of text updates into a single commit
// once the input has been quiet for a number of fixed-interval ticks.
package debounce

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/laststop/logging"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("debouncer already started")
	ErrStopped        = errors.New("debouncer stopped")
)

// CommitFunc persists a committed value.
type CommitFunc func(ctx context.Context, text string) error

// Config configures a Debouncer.
type Config struct {
	// Tick is the fixed tick interval.
	// Default: 20ms
	Tick time.Duration

	// Threshold is the number of quiet ticks before a commit.
	// Default: 3
	Threshold int

	// FlushTimeout bounds how long queued commits may take to finish
	// after Run's context is cancelled.
	// Default: 2s
	FlushTimeout time.Duration

	// QueueSize bounds the commits waiting for the worker. A commit made
	// while the queue is full is dropped and logged.
	// Default: 256
	QueueSize int

	// Logger receives commit failures.
	Logger *logging.Logger
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Tick:         20 * time.Millisecond,
		Threshold:    DefaultThreshold,
		FlushTimeout: 2 * time.Second,
		QueueSize:    256,
	}
}

// Debouncer drives a Buffer from a ticker and hands committed values to a
// single worker, so commits are appended in the order they were made.
// A failed commit is logged and does not affect the buffer.
type Debouncer struct {
	config  Config
	commit  CommitFunc
	logger  *logging.Logger
	updates chan string
	stopped chan struct{}
	running atomic.Bool

	commits  atomic.Int64
	failures atomic.Int64
	dropped  atomic.Int64
}

// New creates a debouncer that calls commit for each committed value.
func New(cfg Config, commit CommitFunc) *Debouncer {
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.Threshold < 1 {
		cfg.Threshold = def.Threshold
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Debouncer{
		config:  cfg,
		commit:  commit,
		logger:  logger,
		updates: make(chan string, 64),
		stopped: make(chan struct{}),
	}
}

// Update delivers a new value. It blocks only while the update queue is
// full and returns ErrStopped once Run has returned.
func (d *Debouncer) Update(text string) error {
	select {
	case <-d.stopped:
		return ErrStopped
	default:
	}
	select {
	case d.updates <- text:
		return nil
	case <-d.stopped:
		return ErrStopped
	}
}

// Commits returns the number of successful commits.
func (d *Debouncer) Commits() int64 { return d.commits.Load() }

// Failures returns the number of failed commits.
func (d *Debouncer) Failures() int64 { return d.failures.Load() }

// Dropped returns the number of commits dropped on a full queue.
func (d *Debouncer) Dropped() int64 { return d.dropped.Load() }

// Run processes updates and ticks until ctx is done. Commits already
// queued are given FlushTimeout to finish. A value still pending when ctx
// ends is discarded.
func (d *Debouncer) Run(ctx context.Context) error {
	if d.running.Swap(true) {
		return ErrAlreadyStarted
	}
	defer close(d.stopped)

	queue := make(chan string, d.config.QueueSize)
	workerDone := make(chan struct{})
	flushCtx, cancelFlush := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFlush()
	go d.worker(flushCtx, queue, workerDone)

	buf := NewBuffer(d.config.Threshold)
	ticker := time.NewTicker(d.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(queue)
			select {
			case <-workerDone:
			case <-time.After(d.config.FlushTimeout):
				cancelFlush()
				<-workerDone
			}
			if buf.Pending() {
				d.logger.Debug("discarding pending update on stop")
			}
			return nil

		case text := <-d.updates:
			buf.Update(text)

		case <-ticker.C:
			if text, ok := buf.Tick(); ok {
				select {
				case queue <- text:
				default:
					d.dropped.Add(1)
					d.logger.Warn("commit queue full, dropping", map[string]interface{}{
						"len": len(text),
					})
				}
			}
		}
	}
}

func (d *Debouncer) worker(ctx context.Context, queue <-chan string, done chan<- struct{}) {
	defer close(done)
	for text := range queue {
		if err := d.commit(ctx, text); err != nil {
			d.failures.Add(1)
			d.logger.Warn("commit failed", map[string]interface{}{
				"error": err,
				"len":   len(text),
			})
			continue
		}
		d.commits.Add(1)
	}
}
