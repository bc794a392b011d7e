// Package capture is the speech-capture terminal. It reads recogniser
// hypotheses as text lines, debounces them, and appends each settled
// value to the spoken_texts log.
package capture

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/laststop/debounce"
	"github.com/vinayprograms/laststop/errors"
	"github.com/vinayprograms/laststop/eventlog"
	"github.com/vinayprograms/laststop/logging"
)

// Sender is the name the capture terminal writes under.
const Sender = "speech_console"

const exitedWriteTimeout = 2 * time.Second

// Config configures a Console.
type Config struct {
	// Writer appends to both logs. Its Sender should be Sender.
	Writer *eventlog.Writer

	// Tick is the debounce tick.
	// Default: 20ms
	Tick time.Duration

	// Threshold is the number of quiet ticks before a commit.
	// Default: 3
	Threshold int

	Logger *logging.Logger
}

// Console turns a stream of hypotheses into committed speech entries.
type Console struct {
	writer    *eventlog.Writer
	tick      time.Duration
	threshold int
	logger    *logging.Logger
	debouncer *debounce.Debouncer
}

// NewConsole creates a console.
func NewConsole(cfg Config) (*Console, error) {
	if cfg.Writer == nil {
		return nil, errors.Config("capture: writer is required", nil)
	}
	def := debounce.DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.Threshold < 1 {
		cfg.Threshold = def.Threshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	c := &Console{
		writer:    cfg.Writer,
		tick:      cfg.Tick,
		threshold: cfg.Threshold,
		logger:    logger,
	}
	c.debouncer = debounce.New(debounce.Config{
		Tick:      cfg.Tick,
		Threshold: cfg.Threshold,
		Logger:    logger,
	}, c.commit)
	return c, nil
}

func (c *Console) commit(ctx context.Context, text string) error {
	pos, err := c.writer.Speech(ctx, text)
	if err != nil {
		return errors.StoreWrite("append speech", err)
	}
	c.logger.Debug("committed", map[string]interface{}{"id": uint64(pos), "text": text})
	return nil
}

// Commits returns the number of speech entries written.
func (c *Console) Commits() int64 { return c.debouncer.Commits() }

// Run announces "started", then debounces each line read from r until r
// ends or ctx is done, and finally announces "exited". Only a failed
// "started" announcement is an error.
func (c *Console) Run(ctx context.Context, r io.Reader) error {
	if _, err := c.writer.Message(ctx, eventlog.Started); err != nil {
		return errors.StoreWrite("announce started", err)
	}
	c.logger.Info("started", map[string]interface{}{"session": c.writer.SenderID})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go scanLines(runCtx, r, lines)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return c.debouncer.Run(gctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					c.settle(gctx)
					cancel()
					return nil
				}
				if err := c.debouncer.Update(line); err != nil {
					return nil
				}
			}
		}
	})
	err := g.Wait()

	wctx, wcancel := context.WithTimeout(context.Background(), exitedWriteTimeout)
	defer wcancel()
	if _, werr := c.writer.Message(wctx, eventlog.Exited); werr != nil {
		c.logger.Warn("exit entry failed", map[string]interface{}{"error": werr})
	}
	c.logger.Info("exited", map[string]interface{}{"commits": c.Commits()})
	return err
}

// settle waits long enough for a pending value to commit.
func (c *Console) settle(ctx context.Context) {
	t := time.NewTimer(time.Duration(c.threshold+2) * c.tick)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// scanLines sends each non-blank line of r and closes out at EOF.
func scanLines(ctx context.Context, r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		select {
		case out <- line:
		case <-ctx.Done():
			return
		}
	}
}
