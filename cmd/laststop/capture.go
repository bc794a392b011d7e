package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/laststop/capture"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Debounce recogniser output from stdin into the speech log",
	Long: `Read recogniser hypotheses from stdin, one full hypothesis per line, and
append each value that stays unchanged for the quiescence window to the
spoken_texts log.`,
	RunE: runCapture,
}

func runCapture(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, cfg, err := join(ctx, capture.Sender, "sc")
	if err != nil {
		return err
	}
	defer p.store.Close()

	console, err := capture.NewConsole(capture.Config{
		Writer:    p.writer,
		Tick:      cfg.Capture.Tick.Std(),
		Threshold: cfg.Capture.QuiescenceTicks,
		Logger:    p.logger,
	})
	if err != nil {
		return err
	}
	return console.Run(ctx, os.Stdin)
}
