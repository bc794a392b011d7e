package eventlog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// collector gathers delivered records.
type collector struct {
	mu   sync.Mutex
	recs []Record
}

func (c *collector) add(r Record) error {
	c.mu.Lock()
	c.recs = append(c.recs, r)
	c.mu.Unlock()
	return nil
}

func (c *collector) ids() []Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Position, len(c.recs))
	for i, r := range c.recs {
		out[i] = r.ID
	}
	return out
}

func (c *collector) waitFor(t *testing.T, n int) []Position {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ids := c.ids(); len(ids) >= n {
			return ids
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d records, got %v", n, c.ids())
	return nil
}

func equalIDs(a, b []Position) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func startTailer(t *testing.T, tl *Tailer, c *collector) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- tl.Run(ctx, c.add) }()
	t.Cleanup(cancelFn)
	return cancelFn, errCh
}

func TestTailer_EmptyLogIsSeeded(t *testing.T) {
	l := NewMemoryLog(SpokenTexts)
	c := &collector{}
	tl := NewTailer(l, TailerConfig{})
	startTailer(t, tl, c)

	deadline := time.Now().Add(time.Second)
	for l.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	recs := l.Records()
	if len(recs) != 1 {
		t.Fatalf("expected sentinel entry, log has %d entries", len(recs))
	}
	if recs[0].Entry.Kind != KindSpeech || recs[0].Entry.Text != "" {
		t.Errorf("unexpected sentinel: %+v", recs[0].Entry)
	}

	l.Append(context.Background(), speech("a"))
	ids := c.waitFor(t, 1)
	if !equalIDs(ids, []Position{2}) {
		t.Errorf("expected only entry 2 delivered (sentinel skipped), got %v", ids)
	}
}

func TestTailer_FromNowSkipsExisting(t *testing.T) {
	l := NewMemoryLog(Messages)
	ctx := context.Background()
	l.Append(ctx, msg("old1"))
	l.Append(ctx, msg("old2"))

	c := &collector{}
	tl := NewTailer(l, TailerConfig{})
	startTailer(t, tl, c)

	deadline := time.Now().Add(time.Second)
	for tl.Position() != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	l.Append(ctx, msg("new"))
	ids := c.waitFor(t, 1)
	if !equalIDs(ids, []Position{3}) {
		t.Errorf("expected [3], got %v", ids)
	}
	if l.Len() != 3 {
		t.Errorf("non-empty log must not be seeded, len=%d", l.Len())
	}
}

func TestTailer_ResumeFromPosition(t *testing.T) {
	l := NewMemoryLog(Messages)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		l.Append(ctx, msg("m"))
	}

	c := &collector{}
	tl := NewTailer(l, TailerConfig{From: 2})
	startTailer(t, tl, c)

	ids := c.waitFor(t, 3)
	if !equalIDs(ids, []Position{3, 4, 5}) {
		t.Errorf("expected [3 4 5], got %v", ids)
	}
	if tl.Position() != 5 {
		t.Errorf("expected position 5, got %d", tl.Position())
	}
}

func TestTailer_OrderUnderConcurrentAppends(t *testing.T) {
	l := NewMemoryLog(SpokenTexts)
	l.Append(context.Background(), speech("seed"))

	c := &collector{}
	tl := NewTailer(l, TailerConfig{From: 1})
	startTailer(t, tl, c)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				l.Append(context.Background(), speech("x"))
			}
		}()
	}
	wg.Wait()

	ids := c.waitFor(t, 100)
	for i, id := range ids {
		if id != Position(i+2) {
			t.Fatalf("gap or repeat at index %d: %v", i, ids)
		}
	}
}

// flakyLog fails its first cursor after a number of records, and replays
// from the start on every later subscription regardless of the position
// asked for.
type flakyLog struct {
	*MemoryLog
	failAfter  int
	subscribes atomic.Int32
}

func (f *flakyLog) Subscribe(ctx context.Context, after Position) (Cursor, error) {
	n := f.subscribes.Add(1)
	inner, err := f.MemoryLog.Subscribe(ctx, Before)
	if err != nil {
		return nil, err
	}
	if n == 1 {
		return &failingCursor{Cursor: inner, left: f.failAfter + int(after)}, nil
	}
	return inner, nil
}

type failingCursor struct {
	Cursor
	left int
}

func (c *failingCursor) Next(ctx context.Context) (Record, error) {
	if c.left == 0 {
		return Record{}, errors.New("connection reset")
	}
	c.left--
	return c.Cursor.Next(ctx)
}

func TestTailer_ReconnectDoesNotRedeliver(t *testing.T) {
	base := NewMemoryLog(Messages)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		base.Append(ctx, msg("m"))
	}
	l := &flakyLog{MemoryLog: base, failAfter: 2}

	c := &collector{}
	tl := NewTailer(l, TailerConfig{From: 1, ReconnectWait: 5 * time.Millisecond})
	startTailer(t, tl, c)

	ids := c.waitFor(t, 5)
	if !equalIDs(ids, []Position{2, 3, 4, 5, 6}) {
		t.Errorf("expected [2..6] exactly once, got %v", ids)
	}
	if l.subscribes.Load() < 2 {
		t.Errorf("expected a resubscribe, got %d subscribes", l.subscribes.Load())
	}

	base.Append(ctx, msg("after reconnect"))
	ids = c.waitFor(t, 6)
	if ids[5] != 7 {
		t.Errorf("expected 7 after reconnect, got %v", ids)
	}
}

// scriptedLog hands out a fixed record order from its cursor.
type scriptedLog struct {
	last   Position
	script []Record
}

func (s *scriptedLog) Name() string { return Messages }
func (s *scriptedLog) Append(context.Context, Entry) (Position, error) {
	return 0, errors.New("read only")
}
func (s *scriptedLog) Last(context.Context) (Position, error) { return s.last, nil }
func (s *scriptedLog) Subscribe(context.Context, Position) (Cursor, error) {
	return &scriptedCursor{recs: s.script}, nil
}

type scriptedCursor struct{ recs []Record }

func (c *scriptedCursor) Next(ctx context.Context) (Record, error) {
	if len(c.recs) == 0 {
		<-ctx.Done()
		return Record{}, ctx.Err()
	}
	r := c.recs[0]
	c.recs = c.recs[1:]
	return r, nil
}

func (c *scriptedCursor) Close() error { return nil }

func recs(ids ...Position) []Record {
	out := make([]Record, len(ids))
	for i, id := range ids {
		out[i] = Record{ID: id, Entry: msg("m")}
	}
	return out
}

func TestTailer_HoldsOutOfOrderUntilGapFills(t *testing.T) {
	l := &scriptedLog{last: 10, script: recs(11, 13, 12, 12, 14)}
	c := &collector{}
	tl := NewTailer(l, TailerConfig{GapTimeout: time.Minute})
	startTailer(t, tl, c)

	ids := c.waitFor(t, 4)
	if !equalIDs(ids, []Position{11, 12, 13, 14}) {
		t.Errorf("expected [11 12 13 14], got %v", ids)
	}
}

func TestTailer_GapTimeoutReleasesHeld(t *testing.T) {
	l := &scriptedLog{last: 10, script: recs(11, 14, 13)}
	c := &collector{}
	tl := NewTailer(l, TailerConfig{GapTimeout: 30 * time.Millisecond})
	startTailer(t, tl, c)

	ids := c.waitFor(t, 3)
	if !equalIDs(ids, []Position{11, 13, 14}) {
		t.Errorf("expected [11 13 14] after gap timeout, got %v", ids)
	}
	if tl.Position() != 14 {
		t.Errorf("expected position 14, got %d", tl.Position())
	}
}

func TestTailer_CallbackErrorStops(t *testing.T) {
	l := NewMemoryLog(Messages)
	l.Append(context.Background(), msg("m"))
	l.Append(context.Background(), msg("m"))

	boom := errors.New("boom")
	tl := NewTailer(l, TailerConfig{From: 1})

	err := tl.Run(context.Background(), func(Record) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("expected callback error, got %v", err)
	}
	if tl.Position() != 2 {
		t.Errorf("expected position 2, got %d", tl.Position())
	}
}

func TestTailer_ContextCancel(t *testing.T) {
	l := NewMemoryLog(Messages)
	l.Append(context.Background(), msg("m"))

	c := &collector{}
	tl := NewTailer(l, TailerConfig{})
	cancel, done := startTailer(t, tl, c)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
