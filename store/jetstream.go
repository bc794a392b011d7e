package store

import (
	"context"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/laststop/config"
	"github.com/vinayprograms/laststop/errors"
	"github.com/vinayprograms/laststop/eventlog"
	"github.com/vinayprograms/laststop/process"
)

type jetStreamDriver struct{}

func (jetStreamDriver) Name() string { return config.BackendJetStream }

// Command runs nats-server with JetStream enabled.
func (jetStreamDriver) Command(cfg *config.Config) (process.Spec, bool) {
	args := []string{
		"-js",
		"-p", strconv.Itoa(cfg.Mongo.Port),
		"-a", cfg.Mongo.Bind,
	}
	if cfg.Mongo.Config != "" {
		args = append(args, "-c", cfg.Mongo.Config)
	}
	return process.Spec{
		Role:    process.RoleStore,
		Tag:     "nats",
		Command: cfg.Mongo.Bin,
		Args:    args,
	}, true
}

// Open connects to the server. nats-server has no client-side shutdown
// request, so RequestShutdown reports UNSUPPORTED and the supervisor goes
// straight to signals.
func (jetStreamDriver) Open(ctx context.Context, cfg *config.Config) (Store, error) {
	conn, err := nats.Connect(cfg.StoreURI(),
		nats.Name("laststop"),
		nats.Timeout(cfg.Supervisor.ConnectTimeout.Std()),
	)
	if err != nil {
		return nil, errors.StoreConnect("connect nats", err)
	}
	backend, err := eventlog.NewJetStream(eventlog.JetStreamConfig{
		Conn:     conn,
		MaxBytes: cfg.Log.CappedSize,
	})
	if err != nil {
		conn.Close()
		return nil, errors.StoreConnect("jetstream", err)
	}
	s, err := newLogStore(config.BackendJetStream, backend)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.close = func() error {
		backend.Close()
		conn.Close()
		return nil
	}
	return s, nil
}
