package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/laststop/logging"
)

// TailerConfig configures a Tailer.
type TailerConfig struct {
	// From is the resume position. Before means "from now": the tailer
	// resolves the newest position and delivers only later entries.
	From Position

	// Seed is appended when the log is empty at resolve time so that a
	// concrete starting id exists before subscribing. Default: an empty
	// entry of the log's kind from sender "tailer".
	Seed Entry

	// ReconnectWait is the pause before resubscribing after a cursor error.
	// Default: 1s
	ReconnectWait time.Duration

	// GapTimeout bounds how long an out-of-order entry is held waiting for
	// the missing ids ahead of it. Default: 2s
	GapTimeout time.Duration

	// Logger receives reconnect and gap warnings.
	Logger *logging.Logger
}

// DefaultTailerConfig returns configuration with sensible defaults.
func DefaultTailerConfig() TailerConfig {
	return TailerConfig{
		ReconnectWait: time.Second,
		GapTimeout:    2 * time.Second,
	}
}

// Tailer delivers the entries of one log in position order, exactly once,
// across cursor reconnects.
type Tailer struct {
	log    AppendLog
	config TailerConfig
	logger *logging.Logger

	pos    atomic.Uint64
	seeded Position
}

// NewTailer creates a tailer over log.
func NewTailer(log AppendLog, cfg TailerConfig) *Tailer {
	def := DefaultTailerConfig()
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}
	if cfg.GapTimeout <= 0 {
		cfg.GapTimeout = def.GapTimeout
	}
	if cfg.Seed.Sender == "" {
		cfg.Seed = SentinelFor(log.Name())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	t := &Tailer{
		log:    log,
		config: cfg,
		logger: logger.WithComponent("tail:" + log.Name()),
	}
	t.pos.Store(uint64(cfg.From))
	return t
}

// SentinelFor returns the empty seed entry used for the named log.
func SentinelFor(name string) Entry {
	kind := KindMessage
	if name == SpokenTexts {
		kind = KindSpeech
	}
	return Entry{Kind: kind, Sender: "tailer"}
}

// Position returns the id of the last delivered entry.
func (t *Tailer) Position() Position {
	return Position(t.pos.Load())
}

// Run resolves the starting position and calls fn for every entry after
// it until ctx is done or fn returns an error. Cursor failures are retried
// from the last delivered position.
func (t *Tailer) Run(ctx context.Context, fn func(Record) error) error {
	if t.Position() == Before {
		if err := t.resolve(ctx); err != nil {
			return err
		}
	}

	for {
		err := t.follow(ctx, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var ferr *callbackError
		if errors.As(err, &ferr) {
			return ferr.err
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		t.logger.Warn("cursor lost, reconnecting", map[string]interface{}{
			"after": t.Position(),
			"error": err,
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.config.ReconnectWait):
		}
	}
}

// resolve picks the starting position for a "from now" tail. An empty log
// is seeded first. The seed itself is never delivered, but anything another
// writer appended around it is.
func (t *Tailer) resolve(ctx context.Context) error {
	last, err := t.log.Last(ctx)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", t.log.Name(), err)
	}
	if last != Before {
		t.pos.Store(uint64(last))
		return nil
	}

	seed := t.config.Seed
	if seed.Time.IsZero() {
		seed.Time = time.Now()
	}
	id, err := t.log.Append(ctx, seed)
	if err != nil {
		return fmt.Errorf("seed %s: %w", t.log.Name(), err)
	}
	t.seeded = id
	t.logger.Debug("seeded empty log", map[string]interface{}{"id": id})
	return nil
}

type callbackError struct{ err error }

func (e *callbackError) Error() string { return e.err.Error() }

type cursorResult struct {
	rec Record
	err error
}

// follow runs one cursor lifetime.
func (t *Tailer) follow(ctx context.Context, fn func(Record) error) error {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cur, err := t.log.Subscribe(cctx, t.Position())
	if err != nil {
		return err
	}
	defer cur.Close()

	results := make(chan cursorResult)
	go func() {
		for {
			rec, err := cur.Next(cctx)
			select {
			case results <- cursorResult{rec: rec, err: err}:
			case <-cctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	held := make(map[Position]Record)
	gap := time.NewTimer(time.Hour)
	gap.Stop()
	defer gap.Stop()

	deliver := func(rec Record) error {
		t.pos.Store(uint64(rec.ID))
		if rec.ID == t.seeded {
			return nil
		}
		if err := fn(rec); err != nil {
			return &callbackError{err: err}
		}
		return nil
	}

	drain := func() error {
		for {
			next := t.Position() + 1
			rec, ok := held[next]
			if !ok {
				return nil
			}
			delete(held, next)
			if err := deliver(rec); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case res := <-results:
			if res.err != nil {
				return res.err
			}
			rec := res.rec
			pos := t.Position()
			if rec.ID <= pos {
				continue
			}
			if rec.ID != pos+1 {
				if len(held) == 0 {
					gap.Reset(t.config.GapTimeout)
				}
				held[rec.ID] = rec
				continue
			}
			if err := deliver(rec); err != nil {
				return err
			}
			if err := drain(); err != nil {
				return err
			}
			if len(held) == 0 {
				gap.Stop()
			}

		case <-gap.C:
			if len(held) == 0 {
				continue
			}
			ids := make([]Position, 0, len(held))
			for id := range held {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			t.logger.Warn("gap timeout, skipping missing ids", map[string]interface{}{
				"after": t.Position(),
				"next":  ids[0],
			})
			for _, id := range ids {
				rec := held[id]
				delete(held, id)
				if err := deliver(rec); err != nil {
					return err
				}
			}
		}
	}
}
