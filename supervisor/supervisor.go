// Package supervisor runs the store, the front-end and the capture
// terminal as child processes and takes them down together.
//
// Startup is staged: the store comes first and must accept a "started"
// entry on the messages log before any front-end is spawned. Everything
// after that is steady state until an interrupt, a Shutdown call, or the
// store exiting on its own. All of those paths end in the same shutdown
// sequence, which runs once.
package supervisor

import (
	"context"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/laststop/config"
	"github.com/vinayprograms/laststop/errors"
	"github.com/vinayprograms/laststop/eventlog"
	"github.com/vinayprograms/laststop/heartbeat"
	"github.com/vinayprograms/laststop/identity"
	"github.com/vinayprograms/laststop/logging"
	"github.com/vinayprograms/laststop/process"
	"github.com/vinayprograms/laststop/shutdown"
	"github.com/vinayprograms/laststop/store"
)

// Sender is the name the supervisor writes under.
const Sender = "main"

// exitedWriteTimeout bounds the best-effort "exited" announcement.
const exitedWriteTimeout = 2 * time.Second

// Spawner starts a child process.
type Spawner func(spec process.Spec, sink process.LineSink) (*process.Handle, error)

// Opener makes one connection attempt to the store.
type Opener func(ctx context.Context, cfg *config.Config) (store.Store, error)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. Child output is written through it too.
func WithLogger(l *logging.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithSession fixes the session id instead of generating one.
func WithSession(id identity.Session) Option {
	return func(s *Supervisor) { s.session = id }
}

// WithSpawner replaces process.Start.
func WithSpawner(fn Spawner) Option {
	return func(s *Supervisor) { s.spawn = fn }
}

// WithOpener replaces store.Open.
func WithOpener(fn Opener) Option {
	return func(s *Supervisor) { s.open = fn }
}

// WithRetryInterval sets the pause between store connection attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.retry = d }
}

// Supervisor owns the child processes and the store connection for one run.
type Supervisor struct {
	cfg     *config.Config
	logger  *logging.Logger
	session identity.Session
	spawn   Spawner
	open    Opener
	retry   time.Duration

	mu      sync.RWMutex
	state   State
	history []State
	handles map[process.Role]*process.Handle
	store   store.Store

	runOnce      sync.Once
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	reason       string
	done         chan struct{}
	exitCode     int
}

// New creates a supervisor for cfg. cfg must already be validated.
func New(cfg *config.Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:        cfg,
		spawn:      process.Start,
		open:       store.Open,
		retry:      250 * time.Millisecond,
		state:      StateInit,
		history:    []State{StateInit},
		handles:    make(map[process.Role]*process.Handle),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New().WithComponent("app")
	}
	if s.session == "" {
		s.session = identity.MustNew()
	}
	return s
}

// Session returns the supervisor's session id.
func (s *Supervisor) Session() identity.Session { return s.session }

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// History returns every state entered so far, in order.
func (s *Supervisor) History() []State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]State, len(s.history))
	copy(out, s.history)
	return out
}

// Done is closed once the supervisor reaches TERMINATED.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Handle returns the child running in role, if one was spawned.
func (s *Supervisor) Handle(role process.Role) (*process.Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[role]
	return h, ok
}

// Shutdown requests shutdown. Only the first request counts; later ones,
// and requests after termination, are no-ops.
func (s *Supervisor) Shutdown(reason string) {
	s.shutdownOnce.Do(func() {
		s.reason = reason
		close(s.shutdownCh)
	})
}

// Run drives the supervisor from INIT to TERMINATED and returns the
// process exit code. Cancelling ctx is treated as an interrupt. Run may
// only be called once; later calls wait for and return the first result.
func (s *Supervisor) Run(ctx context.Context) int {
	s.runOnce.Do(func() {
		s.exitCode = s.run(ctx)
		close(s.done)
	})
	<-s.done
	return s.exitCode
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.history = append(s.history, to)
	s.mu.Unlock()
	s.logger.Transition(from.String(), to.String())
}

func (s *Supervisor) track(h *process.Handle) {
	s.mu.Lock()
	s.handles[h.Role()] = h
	s.mu.Unlock()
}

func (s *Supervisor) run(ctx context.Context) int {
	s.setState(StateStoreConnecting)

	driver, err := store.DriverFor(s.cfg)
	if err != nil {
		s.logger.Error("store driver", map[string]interface{}{"error": err})
		return s.terminate(ExitFatal)
	}

	var storeDone <-chan struct{}
	if spec, ok := driver.Command(s.cfg); ok {
		h, err := s.spawn(spec, s.logger)
		if err != nil {
			s.logger.Error("spawn failed", map[string]interface{}{
				"error": errors.ChildSpawn(string(spec.Role), err),
			})
			return s.terminate(ExitFatal)
		}
		s.track(h)
		storeDone = h.Done()
	}

	st, err := s.connect(ctx, storeDone)
	if err != nil {
		if errors.Is(err, errors.ErrCodeCanceled) {
			return s.terminate(ExitOK)
		}
		s.logger.Error("store connect failed", map[string]interface{}{"error": err})
		return s.terminate(ExitFatal)
	}
	s.mu.Lock()
	s.store = st
	s.mu.Unlock()

	writer := &eventlog.Writer{
		Messages:    st.Messages(),
		SpokenTexts: st.SpokenTexts(),
		Sender:      Sender,
		SenderID:    s.session.String(),
	}
	startedAt, err := writer.Message(ctx, eventlog.Started)
	if err != nil {
		s.logger.Error("startup entry failed", map[string]interface{}{
			"error": errors.StoreWrite("write started", err),
		})
		return s.terminate(ExitFatal)
	}
	s.setState(StateStoreReady)

	s.setState(StateFrontendsStarting)
	s.startOptional(process.Spec{
		Role:    process.RoleFrontend,
		Command: s.cfg.GUI.Exec,
		Dir:     s.cfg.GUI.Cwd,
		Shell:   true,
	})
	s.startOptional(process.Spec{
		Role:    process.RoleCapture,
		Command: s.cfg.SpeechConsole.Bin,
		Dir:     s.cfg.SpeechConsole.Cwd,
	})
	s.setState(StateRunning)

	bgCtx, cancelBg := context.WithCancel(context.Background())
	bg := s.background(bgCtx, writer, st, startedAt)

	code := s.wait(ctx, storeDone)

	cancelBg()
	bg.Wait()

	return s.terminate(code, writer)
}

// startOptional spawns a child whose failure does not abort the run.
func (s *Supervisor) startOptional(spec process.Spec) {
	h, err := s.spawn(spec, s.logger)
	if err != nil {
		s.logger.Error("spawn failed", map[string]interface{}{
			"error": errors.ChildSpawn(string(spec.Role), err),
		})
		return
	}
	s.track(h)
	s.logger.WithComponent(h.Tag()).Info("started", map[string]interface{}{"pid": h.PID()})
}

// connect retries the store until it answers, connect_timeout passes, the
// store process exits, or shutdown is requested.
func (s *Supervisor) connect(ctx context.Context, storeDone <-chan struct{}) (store.Store, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Supervisor.ConnectTimeout.Std())
	defer cancel()

	var lastErr error
	for attempt := 1; ; attempt++ {
		st, err := s.open(cctx, s.cfg)
		if err == nil {
			s.logger.Info("store connected", map[string]interface{}{
				"backend":  st.Name(),
				"attempts": attempt,
			})
			return st, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, errors.New(errors.ErrCodeCanceled, "interrupted while connecting")
		}
		s.logger.Debug("store not ready", map[string]interface{}{
			"attempt": attempt,
			"error":   err,
		})

		timer := time.NewTimer(s.retry)
		select {
		case <-s.shutdownCh:
			timer.Stop()
			return nil, errors.New(errors.ErrCodeCanceled, "shutdown requested: "+s.reason)
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New(errors.ErrCodeCanceled, "interrupted while connecting")
		case <-storeDone:
			timer.Stop()
			return nil, errors.StoreConnect("store exited before accepting connections", lastErr)
		case <-cctx.Done():
			timer.Stop()
			return nil, errors.StoreConnect("store unreachable", lastErr)
		case <-timer.C:
		}
	}
}

// background starts the steady-state loops: the optional heartbeat and the
// participant roster. Neither can fail the run.
func (s *Supervisor) background(ctx context.Context, writer *eventlog.Writer, st store.Store, from eventlog.Position) *errgroup.Group {
	var g errgroup.Group

	interval := s.cfg.Supervisor.Heartbeat.Std()
	if interval > 0 {
		s.startHeartbeat(ctx, &g, writer, interval)
	}

	mcfg := heartbeat.DefaultMonitorConfig()
	mcfg.Self = s.session.String()
	mcfg.Logger = s.logger.WithComponent("roster")
	if interval > 0 {
		mcfg.Timeout = 3 * interval
	}
	monitor, err := heartbeat.NewMonitor(mcfg)
	if err != nil {
		s.logger.Warn("roster disabled", map[string]interface{}{"error": err})
		return &g
	}
	if err := monitor.Start(ctx); err != nil {
		s.logger.Warn("roster disabled", map[string]interface{}{"error": err})
		return &g
	}

	tailer := eventlog.NewTailer(st.Messages(), eventlog.TailerConfig{
		From:   from,
		Logger: s.logger,
	})
	g.Go(func() error {
		defer monitor.Stop()
		if err := tailer.Run(ctx, monitor.Observe); err != nil && ctx.Err() == nil {
			s.logger.Warn("roster stopped", map[string]interface{}{"error": err})
		}
		return nil
	})
	return &g
}

// startHeartbeat runs a heartbeat sender in g. A sender that cannot be
// built is logged and skipped.
func (s *Supervisor) startHeartbeat(ctx context.Context, g *errgroup.Group, pub heartbeat.Publisher, interval time.Duration) bool {
	sender, err := heartbeat.NewSender(heartbeat.SenderConfig{
		Publisher: pub,
		Interval:  interval,
		Logger:    s.logger.WithComponent("heartbeat"),
	})
	if err != nil {
		s.logger.Warn("heartbeat disabled", map[string]interface{}{
			"error":    err,
			"interval": interval.String(),
		})
		return false
	}
	g.Go(func() error { return sender.Run(ctx) })
	return true
}

// wait blocks in RUNNING until something ends the run and returns the exit
// code for it.
func (s *Supervisor) wait(ctx context.Context, storeDone <-chan struct{}) int {
	var frontDone, captureDone <-chan struct{}
	if h, ok := s.Handle(process.RoleFrontend); ok {
		frontDone = h.Done()
	}
	if h, ok := s.Handle(process.RoleCapture); ok {
		captureDone = h.Done()
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("interrupt received")
			return ExitOK
		case <-s.shutdownCh:
			s.logger.Info("shutdown requested", map[string]interface{}{"reason": s.reason})
			return ExitOK
		case <-storeDone:
			h, _ := s.Handle(process.RoleStore)
			rec := h.Record()
			s.logger.ChildExit(h.Tag(), rec.PID, rec.ExitCode, rec.ExitSignal)
			s.logger.Error("store exited unexpectedly", map[string]interface{}{
				"error": errors.ChildCrash(string(rec.Role), rec.ExitCode, rec.ExitSignal),
			})
			return ExitFatal
		case <-frontDone:
			frontDone = nil
			s.childExited(process.RoleFrontend)
		case <-captureDone:
			captureDone = nil
			s.childExited(process.RoleCapture)
		}
	}
}

func (s *Supervisor) childExited(role process.Role) {
	h, _ := s.Handle(role)
	rec := h.Record()
	s.logger.ChildExit(h.Tag(), rec.PID, rec.ExitCode, rec.ExitSignal)
}

// terminate runs the shutdown sequence once and enters TERMINATED.
func (s *Supervisor) terminate(code int, writer ...*eventlog.Writer) int {
	s.setState(StateShuttingDown)

	s.mu.RLock()
	st := s.store
	s.mu.RUnlock()

	if st != nil && len(writer) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), exitedWriteTimeout)
		if _, err := writer[0].Message(ctx, eventlog.Exited); err != nil {
			s.logger.Warn("exit entry failed", map[string]interface{}{"error": err})
		}
		cancel()
	}

	seq := shutdown.NewSequencer(shutdown.Config{
		OnProgress: func(tr shutdown.TargetResult) {
			s.logger.ShutdownStep(tr.Name, tr.Duration, tr.Outcome.Forced, tr.Err)
		},
	})
	result := seq.Run(s.targets(st)...)
	if result.Failed() {
		s.logger.Error("shutdown incomplete", map[string]interface{}{
			"failed": result.FailedTargets(),
		})
	}

	if st != nil {
		if err := st.Close(); err != nil {
			s.logger.Warn("store close failed", map[string]interface{}{"error": err})
		}
	}

	s.setState(StateTerminated)
	s.logger.Info("terminated", map[string]interface{}{
		"code":     code,
		"duration": result.TotalDuration.Round(time.Millisecond).String(),
	})
	return code
}

// targets returns one shutdown target per spawned child.
func (s *Supervisor) targets(st store.Store) []shutdown.Target {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy := process.DefaultPolicy()
	policy.GracefulTimeout = s.cfg.Supervisor.GracefulTimeout.Std()

	var targets []shutdown.Target
	for _, role := range []process.Role{process.RoleStore, process.RoleFrontend, process.RoleCapture} {
		h, ok := s.handles[role]
		if !ok {
			continue
		}
		if role == process.RoleStore {
			targets = append(targets, s.storeTarget(h, st))
			continue
		}
		targets = append(targets, shutdown.HandleTarget(h, policy))
	}
	return targets
}

// storeTarget asks the store to shut itself down and waits for it. If the
// request fails or the store outlives the wait, it falls back to SIGINT
// and then SIGKILL after store_kill_grace.
func (s *Supervisor) storeTarget(h *process.Handle, st store.Store) shutdown.Target {
	wait := s.cfg.Supervisor.StoreShutdownTimeout.Std()
	fallback := process.Policy{
		Graceful:        syscall.SIGINT,
		GracefulTimeout: s.cfg.Supervisor.StoreKillGrace.Std(),
		Forceful:        syscall.SIGKILL,
	}
	logger := s.logger.WithComponent(h.Tag())

	return shutdown.TargetFunc{
		TargetName: h.Tag(),
		Fn: func() (process.Outcome, error) {
			if h.Exited() || st == nil {
				return h.Terminate(fallback)
			}

			ctx, cancel := context.WithTimeout(context.Background(), wait)
			defer cancel()

			if err := st.RequestShutdown(ctx, wait); err != nil {
				if !errors.Is(err, errors.ErrCodeUnsupported) {
					logger.Warn("shutdown request failed", map[string]interface{}{"error": err})
				}
				return h.Terminate(fallback)
			}

			select {
			case <-h.Done():
				rec := h.Record()
				return process.Outcome{ExitCode: rec.ExitCode, ExitSignal: rec.ExitSignal}, nil
			case <-ctx.Done():
				logger.Warn("falling back to signals", map[string]interface{}{
					"error": errors.New(errors.ErrCodeShutdownTimeout, "store still running "+wait.String()+" after shutdown request"),
				})
				return h.Terminate(fallback)
			}
		},
	}
}
