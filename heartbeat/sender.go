package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/laststop/eventlog"
	"github.com/vinayprograms/laststop/logging"
)

// Sender appends "heartbeat" lifecycle messages at a fixed interval.
// Heartbeats are not critical: a failed append is logged and counted.
type Sender struct {
	publisher Publisher
	interval  time.Duration
	timeout   time.Duration
	logger    *logging.Logger

	sent     atomic.Int64
	failures atomic.Int64

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSender creates a new heartbeat sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSenderConfig().Interval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = interval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Sender{
		publisher: cfg.Publisher,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// Start begins sending heartbeats at the configured interval.
func (s *Sender) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)
	return nil
}

// Run sends heartbeats until ctx is done. It is Start and Stop in one
// call, for use under an errgroup.
func (s *Sender) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// run is the main heartbeat loop.
func (s *Sender) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.send(ctx)
		}
	}
}

// send appends one heartbeat.
func (s *Sender) send(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.publisher.Message(ctx, eventlog.Heartbeat); err != nil {
		s.failures.Add(1)
		s.logger.Warn("heartbeat failed", map[string]interface{}{"error": err})
		return
	}
	s.sent.Add(1)
}

// Sent returns the number of heartbeats appended.
func (s *Sender) Sent() int64 { return s.sent.Load() }

// Failures returns the number of failed appends.
func (s *Sender) Failures() int64 { return s.failures.Load() }

// Stop stops sending heartbeats.
func (s *Sender) Stop() error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}
