package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/vinayprograms/laststop/eventlog"
)

// Sender name of the front-end side.
const frontendSender = "elec"

var (
	tailLog   string
	tailAfter uint64
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print a log as it grows",
	Long: `Follow a log and print each entry. Without --after only entries appended
from now on are shown; with --after N every entry after position N is.`,
	RunE: runTail,
}

func init() {
	tailCmd.Flags().StringVar(&tailLog, "log", eventlog.SpokenTexts, "log to follow: spoken_texts or messages")
	tailCmd.Flags().Uint64Var(&tailAfter, "after", 0, "resume after this position")
}

var (
	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	senderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	speechStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	messageStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("229"))
)

func runTail(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, _, err := join(ctx, frontendSender, "elec")
	if err != nil {
		return err
	}
	if err := p.announce(ctx); err != nil {
		p.store.Close()
		return err
	}
	defer p.leave()

	log, err := p.store.Log(tailLog)
	if err != nil {
		return err
	}
	tailer := eventlog.NewTailer(log, eventlog.TailerConfig{
		From:   eventlog.Position(tailAfter),
		Logger: p.logger,
	})
	err = tailer.Run(ctx, func(rec eventlog.Record) error {
		return printRecord(os.Stdout, rec)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func printRecord(w io.Writer, rec eventlog.Record) error {
	_, err := fmt.Fprintln(w, formatRecord(rec))
	return err
}

func formatRecord(rec eventlog.Record) string {
	e := rec.Entry
	text := speechStyle.Render(e.Text)
	if e.Kind == eventlog.KindMessage {
		text = messageStyle.Render(e.Text)
	}
	return fmt.Sprintf("%s %s %s %s",
		idStyle.Render(fmt.Sprintf("%6d", uint64(rec.ID))),
		idStyle.Render(e.Time.Format("15:04:05.000")),
		senderStyle.Render(e.Sender),
		text,
	)
}
