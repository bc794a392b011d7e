// Package store connects to the persistent store that backs the event logs
// and knows how to launch and cooperatively stop its process.
//
// A Driver exists per log backend. Process-backed drivers (mongo,
// jetstream) describe the child to spawn; the sqlite driver has no process.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/laststop/config"
	"github.com/vinayprograms/laststop/errors"
	"github.com/vinayprograms/laststop/eventlog"
	"github.com/vinayprograms/laststop/process"
)

// Store is an open connection to both logs.
type Store interface {
	// Name returns the backend name.
	Name() string

	// Messages returns the lifecycle log.
	Messages() eventlog.AppendLog

	// SpokenTexts returns the speech log.
	SpokenTexts() eventlog.AppendLog

	// Log returns a log by name.
	Log(name string) (eventlog.AppendLog, error)

	// RequestShutdown asks the store process to flush and exit, giving it
	// timeout to do so. UNSUPPORTED means the caller should fall back to
	// signals.
	RequestShutdown(ctx context.Context, timeout time.Duration) error

	// Close releases the connection.
	Close() error
}

// Driver knows one backend.
type Driver interface {
	// Name returns the backend name.
	Name() string

	// Command describes the store process, or false if the backend needs
	// none.
	Command(cfg *config.Config) (process.Spec, bool)

	// Open connects to the store. One attempt; callers retry.
	Open(ctx context.Context, cfg *config.Config) (Store, error)
}

var drivers = map[string]Driver{
	config.BackendMongo:     mongoDriver{},
	config.BackendJetStream: jetStreamDriver{},
	config.BackendSQLite:    sqliteDriver{},
}

// DriverFor returns the driver for cfg.Log.Backend.
func DriverFor(cfg *config.Config) (Driver, error) {
	d, ok := drivers[cfg.Log.Backend]
	if !ok {
		return nil, errors.Config(fmt.Sprintf("unknown log backend %q", cfg.Log.Backend), nil)
	}
	return d, nil
}

// Open connects to the configured store.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	d, err := DriverFor(cfg)
	if err != nil {
		return nil, err
	}
	return d.Open(ctx, cfg)
}

// logStore adapts an eventlog.Backend to Store.
type logStore struct {
	name        string
	backend     eventlog.Backend
	messages    eventlog.AppendLog
	spokenTexts eventlog.AppendLog
	shutdown    func(ctx context.Context, timeout time.Duration) error
	close       func() error
}

func newLogStore(name string, backend eventlog.Backend) (*logStore, error) {
	msgs, err := backend.Log(eventlog.Messages)
	if err != nil {
		return nil, errors.StoreConnect("open messages log", err)
	}
	spoken, err := backend.Log(eventlog.SpokenTexts)
	if err != nil {
		return nil, errors.StoreConnect("open spoken_texts log", err)
	}
	return &logStore{
		name:        name,
		backend:     backend,
		messages:    msgs,
		spokenTexts: spoken,
		close:       backend.Close,
	}, nil
}

func (s *logStore) Name() string                                { return s.name }
func (s *logStore) Messages() eventlog.AppendLog                { return s.messages }
func (s *logStore) SpokenTexts() eventlog.AppendLog             { return s.spokenTexts }
func (s *logStore) Log(name string) (eventlog.AppendLog, error) { return s.backend.Log(name) }

func (s *logStore) RequestShutdown(ctx context.Context, timeout time.Duration) error {
	if s.shutdown == nil {
		return errors.New(errors.ErrCodeUnsupported, s.name+" has no native shutdown")
	}
	return s.shutdown(ctx, timeout)
}

func (s *logStore) Close() error {
	return s.close()
}

// NewMemory returns a Store over an in-memory backend. It has no process
// and accepts shutdown requests as no-ops.
func NewMemory() Store {
	s, _ := newLogStore("memory", eventlog.NewMemory())
	s.shutdown = func(context.Context, time.Duration) error { return nil }
	return s
}
