package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/laststop/config"
	"github.com/vinayprograms/laststop/errors"
	"github.com/vinayprograms/laststop/eventlog"
	"github.com/vinayprograms/laststop/identity"
	"github.com/vinayprograms/laststop/logging"
	"github.com/vinayprograms/laststop/store"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "laststop",
	Short: "Supervise the last-stop speech display",
	Long: `laststop runs a store, a front-end and a speech capture terminal as one unit.

The run command starts and supervises all three. The other commands are the
participants' side: capture feeds recogniser output into the speech log, tail
prints a log as it grows, and serve exposes the logs over WebSocket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "configuration file (.json, .toml, .yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(serveCmd)
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func newLogger(component string) (*logging.Logger, error) {
	level, ok := logging.ParseLevel(logLevel)
	if !ok {
		return nil, errors.Config(fmt.Sprintf("unknown log level %q", logLevel), nil)
	}
	l := logging.New()
	l.SetLevel(level)
	return l.WithComponent(component), nil
}

// participant is a connected non-supervisor process: its store connection
// and the writer it announces itself with.
type participant struct {
	store  store.Store
	writer *eventlog.Writer
	logger *logging.Logger
}

// join loads the configuration, connects to the store and announces
// "started" under sender. A failed announcement is fatal.
func join(ctx context.Context, sender, component string) (*participant, *config.Config, error) {
	logger, err := newLogger(component)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.Supervisor.ConnectTimeout.Std())
	defer cancel()
	st, err := store.Open(cctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	session := identity.MustNew()
	p := &participant{
		store: st,
		writer: &eventlog.Writer{
			Messages:    st.Messages(),
			SpokenTexts: st.SpokenTexts(),
			Sender:      sender,
			SenderID:    session.String(),
		},
		logger: logger,
	}
	return p, cfg, nil
}

func (p *participant) announce(ctx context.Context) error {
	if _, err := p.writer.Message(ctx, eventlog.Started); err != nil {
		return errors.StoreWrite("announce started", err)
	}
	p.logger.Info("started", map[string]interface{}{"session": p.writer.SenderID})
	return nil
}

// leave announces "exited" on a best-effort basis and disconnects.
func (p *participant) leave() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.writer.Message(ctx, eventlog.Exited); err != nil {
		p.logger.Warn("exit entry failed", map[string]interface{}{"error": err})
	}
	p.store.Close()
}
