package store

import (
	"context"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/vinayprograms/laststop/config"
	"github.com/vinayprograms/laststop/errors"
	"github.com/vinayprograms/laststop/eventlog"
	"github.com/vinayprograms/laststop/process"
)

type mongoDriver struct{}

func (mongoDriver) Name() string { return config.BackendMongo }

// Command runs mongod with the configured port and bind address.
func (mongoDriver) Command(cfg *config.Config) (process.Spec, bool) {
	var args []string
	if cfg.Mongo.Config != "" {
		args = append(args, "--config", cfg.Mongo.Config)
	}
	args = append(args,
		"--port", strconv.Itoa(cfg.Mongo.Port),
		"--bind_ip", cfg.Mongo.Bind,
	)
	return process.Spec{
		Role:    process.RoleStore,
		Command: cfg.Mongo.Bin,
		Args:    args,
	}, true
}

func (mongoDriver) Open(ctx context.Context, cfg *config.Config) (Store, error) {
	backend, err := eventlog.ConnectMongo(ctx, eventlog.MongoConfig{
		URI:            cfg.StoreURI(),
		Database:       cfg.Log.Database,
		CappedSize:     cfg.Log.CappedSize,
		ConnectTimeout: cfg.Supervisor.ConnectTimeout.Std(),
	})
	if err != nil {
		return nil, errors.StoreConnect("connect mongo", err)
	}
	s, err := newLogStore(config.BackendMongo, backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	client := backend.Client()
	s.shutdown = func(ctx context.Context, timeout time.Duration) error {
		return mongoShutdown(ctx, client, timeout)
	}
	return s, nil
}

// mongoShutdown runs the admin shutdown command. The server drops the
// connection as it exits, so a network error is the expected answer.
func mongoShutdown(ctx context.Context, client *mongo.Client, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := bson.D{
		{Key: "shutdown", Value: 1},
		{Key: "force", Value: false},
		{Key: "timeoutSecs", Value: secs},
	}
	err := client.Database("admin").RunCommand(ctx, cmd).Err()
	if err == nil || mongo.IsNetworkError(err) {
		return nil
	}
	return errors.Wrap(err, "mongo shutdown command")
}
