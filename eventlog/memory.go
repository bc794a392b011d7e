package eventlog

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Backend. It is used by tests and by single-process
// tools that do not need persistence.
type Memory struct {
	mu     sync.Mutex
	logs   map[string]*MemoryLog
	closed bool
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{logs: make(map[string]*MemoryLog)}
}

// Log returns the named log, creating it on first use.
func (m *Memory) Log(name string) (AppendLog, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	l, ok := m.logs[name]
	if !ok {
		l = NewMemoryLog(name)
		m.logs[name] = l
	}
	return l, nil
}

// Close closes every log. Blocked cursors return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, l := range m.logs {
		l.Close()
	}
	return nil
}

// MemoryLog is an AppendLog held in a slice. Positions are dense, starting
// at 1.
type MemoryLog struct {
	name    string
	mu      sync.Mutex
	records []Record
	notify  chan struct{} // closed and replaced on every append
	closed  bool
}

// NewMemoryLog creates an empty log.
func NewMemoryLog(name string) *MemoryLog {
	return &MemoryLog{name: name, notify: make(chan struct{})}
}

// Name returns the log name.
func (l *MemoryLog) Name() string { return l.name }

// Append adds an entry.
func (l *MemoryLog) Append(ctx context.Context, e Entry) (Position, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := e.Validate(); err != nil {
		return 0, err
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	pos := Position(len(l.records) + 1)
	l.records = append(l.records, Record{ID: pos, Entry: e})
	close(l.notify)
	l.notify = make(chan struct{})
	return pos, nil
}

// Last returns the newest position.
func (l *MemoryLog) Last(ctx context.Context) (Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	return Position(len(l.records)), nil
}

// Len returns the number of entries.
func (l *MemoryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Records returns a copy of all entries.
func (l *MemoryLog) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Subscribe opens a cursor after the given position.
func (l *MemoryLog) Subscribe(ctx context.Context, after Position) (Cursor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	return &memoryCursor{log: l, after: after, done: make(chan struct{})}, nil
}

// Close wakes blocked cursors and rejects further appends.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.notify)
	return nil
}

type memoryCursor struct {
	log       *MemoryLog
	after     Position
	done      chan struct{}
	closeOnce sync.Once
}

func (c *memoryCursor) Next(ctx context.Context) (Record, error) {
	for {
		c.log.mu.Lock()
		if int(c.after) < len(c.log.records) {
			rec := c.log.records[c.after]
			c.log.mu.Unlock()
			c.after = rec.ID
			return rec, nil
		}
		if c.log.closed {
			c.log.mu.Unlock()
			return Record{}, ErrClosed
		}
		wait := c.log.notify
		c.log.mu.Unlock()

		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-c.done:
			return Record{}, ErrClosed
		case <-wait:
		}
	}
}

func (c *memoryCursor) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
