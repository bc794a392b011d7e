package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/laststop/logging"
)

// Sentinel errors for the process package.
var (
	ErrEmptyCommand = errors.New("empty command")
	ErrNotStarted   = errors.New("process not started")
)

// Role names the part a child plays. Roles are unique within a supervisor.
type Role string

const (
	RoleStore    Role = "store"
	RoleFrontend Role = "frontend"
	RoleCapture  Role = "capture"
)

// Tag returns the short log tag for the role.
func (r Role) Tag() string {
	switch r {
	case RoleStore:
		return "mongod"
	case RoleFrontend:
		return "elec"
	case RoleCapture:
		return "sc"
	default:
		return string(r)
	}
}

// Status is the lifecycle status of a child.
type Status int

const (
	StatusStarting Status = iota
	StatusRunning
	StatusExited
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusExited:
		return "exited"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Record describes one child. It is written only by the owning Handle.
type Record struct {
	Role       Role
	PID        int
	Status     Status
	ExitCode   int    // -1 until exited, or when killed by a signal
	ExitSignal string // empty unless killed by a signal
	Started    time.Time
	Exited     time.Time
}

// LineSink receives each line a child writes to stdout or stderr.
// *logging.Logger implements it.
type LineSink interface {
	Line(tag string, stream logging.Stream, text string)
}

// Spec describes a child to start.
type Spec struct {
	Role Role

	// Tag overrides the role's default log tag.
	Tag string

	// Command is the executable. With Shell set it is a full command line
	// run through the platform shell.
	Command string
	Args    []string
	Dir     string
	Env     []string
	Shell   bool
}

func (s Spec) tag() string {
	if s.Tag != "" {
		return s.Tag
	}
	return s.Role.Tag()
}

// Policy is a graceful-then-forceful termination policy.
type Policy struct {
	Graceful        os.Signal
	GracefulTimeout time.Duration
	Forceful        os.Signal
}

// DefaultPolicy is used for the front-end and capture terminal.
func DefaultPolicy() Policy {
	return Policy{
		Graceful:        syscall.SIGTERM,
		GracefulTimeout: 5 * time.Second,
		Forceful:        syscall.SIGKILL,
	}
}

// Outcome reports how a child ended.
type Outcome struct {
	// Forced is set when the forceful signal had to be sent.
	Forced bool

	// AlreadyExited is set when the child was gone before Terminate.
	AlreadyExited bool

	ExitCode   int
	ExitSignal string
}

// Handle is one running child. It is safe for concurrent use.
type Handle struct {
	// ID uniquely identifies this child across restarts of the same role.
	ID string

	spec Spec
	cmd  *exec.Cmd
	pgid int
	done chan struct{}

	mu     sync.RWMutex
	record Record
}

// Start launches the child described by spec and streams its output
// lines to sink, tagged with the role's log tag.
func Start(spec Spec, sink LineSink) (*Handle, error) {
	if spec.Command == "" {
		return nil, ErrEmptyCommand
	}

	var cmd *exec.Cmd
	if spec.Shell {
		cmd = shellCommand(spec.Command)
	} else {
		cmd = exec.Command(spec.Command, spec.Args...)
	}
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configure(cmd)

	// Plain pipes rather than StdoutPipe, so Wait does not depend on
	// the readers and descendants holding the pipe open cannot stall it.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	h := &Handle{
		ID:   uuid.NewString(),
		spec: spec,
		cmd:  cmd,
		done: make(chan struct{}),
		record: Record{
			Role:     spec.Role,
			Status:   StatusStarting,
			ExitCode: -1,
		},
	}

	err = cmd.Start()
	outW.Close()
	errW.Close()
	if err != nil {
		outR.Close()
		errR.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}

	h.pgid = processGroup(cmd)

	h.mu.Lock()
	h.record.PID = cmd.Process.Pid
	h.record.Status = StatusRunning
	h.record.Started = time.Now()
	h.mu.Unlock()

	tag := spec.tag()
	if sink != nil {
		go pump(outR, tag, logging.Stdout, sink)
		go pump(errR, tag, logging.Stderr, sink)
	} else {
		go drain(outR)
		go drain(errR)
	}
	go h.waitLoop()

	return h, nil
}

func pump(r io.ReadCloser, tag string, stream logging.Stream, sink LineSink) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		sink.Line(tag, stream, sc.Text())
	}
}

func drain(r io.ReadCloser) {
	defer r.Close()
	io.Copy(io.Discard, r)
}

// waitLoop waits for the child to exit and records how it ended.
func (h *Handle) waitLoop() {
	err := h.cmd.Wait()

	code, signal := 0, ""
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				signal = status.Signal().String()
			}
		} else {
			code = -1
		}
	}

	h.mu.Lock()
	h.record.Status = StatusExited
	h.record.ExitCode = code
	h.record.ExitSignal = signal
	h.record.Exited = time.Now()
	h.mu.Unlock()
	close(h.done)
}

// Role returns the child's role.
func (h *Handle) Role() Role { return h.spec.Role }

// Tag returns the child's log tag.
func (h *Handle) Tag() string { return h.spec.tag() }

// PID returns the process id.
func (h *Handle) PID() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.record.PID
}

// Done returns a channel that is closed when the child exits. It is
// independent of any Terminate call in progress.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the child has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Record returns a snapshot of the child's record.
func (h *Handle) Record() Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.record
}

func (h *Handle) outcome(forced, already bool) Outcome {
	rec := h.Record()
	return Outcome{
		Forced:        forced,
		AlreadyExited: already,
		ExitCode:      rec.ExitCode,
		ExitSignal:    rec.ExitSignal,
	}
}

// treePollInterval is how often the process group is checked once the
// leader has exited.
const treePollInterval = 10 * time.Millisecond

// forcefulDrain bounds the wait for descendants after the forceful signal.
const forcefulDrain = time.Second

// treeGone reports whether the child and, where the platform can tell,
// every descendant in its group have exited.
func (h *Handle) treeGone() bool {
	return h.Exited() && !groupAlive(h.pgid)
}

// waitTree waits until the tree is gone or deadline passes.
func (h *Handle) waitTree(deadline time.Time) bool {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-h.done:
	case <-timer.C:
		return h.treeGone()
	}
	for !h.treeGone() {
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(treePollInterval)
	}
	return true
}

// Terminate sends the graceful signal to the child's process tree and
// waits up to GracefulTimeout for the child and its descendants to exit.
// If anything in the tree is still alive it sends the forceful signal and
// waits for the child unconditionally. Terminating a tree that already
// exited succeeds without sending anything.
func (h *Handle) Terminate(p Policy) (Outcome, error) {
	if h.treeGone() {
		return h.outcome(false, true), nil
	}

	def := DefaultPolicy()
	if p.Graceful == nil {
		p.Graceful = def.Graceful
	}
	if p.Forceful == nil {
		p.Forceful = def.Forceful
	}

	// A failed graceful signal goes straight to the forceful step.
	if err := signalTree(h.cmd, h.pgid, p.Graceful); err == nil && p.GracefulTimeout > 0 {
		if h.waitTree(time.Now().Add(p.GracefulTimeout)) {
			return h.outcome(false, false), nil
		}
	}
	if h.treeGone() {
		return h.outcome(false, false), nil
	}

	if err := signalTree(h.cmd, h.pgid, p.Forceful); err != nil && !h.treeGone() {
		return h.outcome(true, false), fmt.Errorf("signal %s: %w", p.Forceful, err)
	}
	<-h.done
	h.waitTree(time.Now().Add(forcefulDrain))
	return h.outcome(true, false), nil
}

// Signal sends sig to the child's process tree without waiting.
func (h *Handle) Signal(sig os.Signal) error {
	if h.treeGone() {
		return nil
	}
	return signalTree(h.cmd, h.pgid, sig)
}
