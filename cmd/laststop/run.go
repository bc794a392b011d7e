package main

import (
	"github.com/spf13/cobra"

	"github.com/vinayprograms/laststop/config"
	"github.com/vinayprograms/laststop/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start and supervise the store, front-end and capture terminal",
	Long: `Start the store, wait for it to accept a "started" entry, then start the
front-end and the capture terminal. An interrupt stops all three together;
the store is asked to shut down cleanly before it is signalled.

Exit status is 0 after a normal shutdown and 1 after a fatal startup failure
or a store crash.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := newLogger("app")
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("config", map[string]interface{}{"error": err})
		return &exitError{code: supervisor.ExitFatal}
	}

	sup := supervisor.New(cfg, supervisor.WithLogger(logger))
	logger.Info("session", map[string]interface{}{
		"id":      sup.Session().String(),
		"backend": cfg.Log.Backend,
	})
	if code := sup.Run(cmd.Context()); code != supervisor.ExitOK {
		return &exitError{code: code}
	}
	return nil
}
