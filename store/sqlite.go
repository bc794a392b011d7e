package store

import (
	"context"
	"time"

	"github.com/vinayprograms/laststop/config"
	"github.com/vinayprograms/laststop/errors"
	"github.com/vinayprograms/laststop/eventlog"
	"github.com/vinayprograms/laststop/process"
)

type sqliteDriver struct{}

func (sqliteDriver) Name() string { return config.BackendSQLite }

// Command reports that the sqlite backend has no process.
func (sqliteDriver) Command(*config.Config) (process.Spec, bool) {
	return process.Spec{}, false
}

func (sqliteDriver) Open(ctx context.Context, cfg *config.Config) (Store, error) {
	backend, err := eventlog.OpenSQLite(eventlog.SQLiteConfig{Path: cfg.Log.Path})
	if err != nil {
		return nil, errors.StoreConnect("open sqlite", err)
	}
	s, err := newLogStore(config.BackendSQLite, backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	s.shutdown = func(context.Context, time.Duration) error { return nil }
	return s, nil
}
