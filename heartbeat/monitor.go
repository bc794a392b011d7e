package heartbeat

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/laststop/eventlog"
	"github.com/vinayprograms/laststop/logging"
)

// Monitor keeps a roster of the participants announcing themselves on the
// messages log. It is fed records by a tailer through Observe and reports
// heartbeating participants that go quiet. It never acts on them; the
// roster is for observability.
type Monitor struct {
	self          string
	timeout       time.Duration
	checkInterval time.Duration
	logger        *logging.Logger

	mu       sync.RWMutex
	roster   map[string]*Participant
	deadCBs  []func(Participant)
	reported map[string]bool // stale participants already reported

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a new participant monitor.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultMonitorConfig().Timeout
	}

	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultMonitorConfig().CheckInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Monitor{
		self:          cfg.Self,
		timeout:       timeout,
		checkInterval: checkInterval,
		logger:        logger,
		roster:        make(map[string]*Participant),
		reported:      make(map[string]bool),
	}, nil
}

// Observe processes one record from the messages log. Speech records and
// this process's own records are ignored.
func (m *Monitor) Observe(rec eventlog.Record) error {
	e := rec.Entry
	if e.Kind != eventlog.KindMessage || e.SenderID == "" || e.SenderID == m.self {
		return nil
	}

	seen := e.Time
	if seen.IsZero() {
		seen = time.Now()
	}

	m.mu.Lock()
	p, known := m.roster[e.SenderID]
	if !known {
		p = &Participant{SenderID: e.SenderID, Sender: e.Sender, FirstSeen: seen}
		m.roster[e.SenderID] = p
	}
	p.LastSeen = seen
	prev := p.Status
	switch e.Text {
	case eventlog.Started:
		p.Status = StatusStarted
	case eventlog.Exited:
		p.Status = StatusExited
	case eventlog.Heartbeat:
		p.Heartbeating = true
		if p.Status != StatusExited {
			p.Status = StatusAlive
		}
	}
	delete(m.reported, e.SenderID)
	m.mu.Unlock()

	fields := map[string]interface{}{
		"sender":    e.Sender,
		"sender_id": e.SenderID,
	}
	switch {
	case e.Text == eventlog.Started:
		m.logger.Info("participant started", fields)
	case e.Text == eventlog.Exited:
		m.logger.Info("participant exited", fields)
	case prev == StatusStale:
		m.logger.Info("participant recovered", fields)
	case !known:
		m.logger.Debug("participant seen", fields)
	}
	return nil
}

// Participants returns the roster ordered by first appearance.
func (m *Monitor) Participants() []Participant {
	m.mu.RLock()
	out := make([]Participant, 0, len(m.roster))
	for _, p := range m.roster {
		out = append(out, *p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].SenderID < out[j].SenderID
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	return out
}

// IsAlive checks if a participant has been heard from within timeout and
// has not announced its exit.
func (m *Monitor) IsAlive(senderID string, timeout time.Duration) bool {
	m.mu.RLock()
	p, ok := m.roster[senderID]
	m.mu.RUnlock()

	if !ok || p.Status == StatusExited {
		return false
	}
	return time.Since(p.LastSeen) <= timeout
}

// OnDead registers a callback for when a heartbeating participant goes
// stale.
func (m *Monitor) OnDead(callback func(Participant)) {
	m.mu.Lock()
	m.deadCBs = append(m.deadCBs, callback)
	m.mu.Unlock()
}

// Start runs the staleness checker until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	if m.running.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.run(ctx)
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	checkTicker := time.NewTicker(m.checkInterval)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-checkTicker.C:
			m.CheckDead()
		}
	}
}

// CheckDead marks heartbeating participants that have gone quiet as stale
// and reports each once.
func (m *Monitor) CheckDead() {
	now := time.Now()
	var dead []Participant

	m.mu.Lock()
	for id, p := range m.roster {
		if !p.Heartbeating || p.Status == StatusExited || m.reported[id] {
			continue
		}
		if now.Sub(p.LastSeen) > m.timeout {
			p.Status = StatusStale
			m.reported[id] = true
			dead = append(dead, *p)
		}
	}
	callbacks := make([]func(Participant), len(m.deadCBs))
	copy(callbacks, m.deadCBs)
	m.mu.Unlock()

	for _, p := range dead {
		m.logger.Warn("participant stale", map[string]interface{}{
			"sender":    p.Sender,
			"sender_id": p.SenderID,
			"last_seen": p.LastSeen.Format(time.RFC3339),
		})
		for _, cb := range callbacks {
			cb(p)
		}
	}
}

// Stop stops the staleness checker.
func (m *Monitor) Stop() error {
	if !m.running.Swap(false) {
		return ErrNotStarted
	}
	close(m.stopCh)
	<-m.doneCh
	return nil
}
