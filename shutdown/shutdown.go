package shutdown

import (
	"errors"
	"time"

	"github.com/vinayprograms/laststop/process"
)

// Common errors.
var (
	// ErrTargetFailed indicates one or more targets failed to stop cleanly.
	ErrTargetFailed = errors.New("one or more targets failed")
)

// Target is something the sequencer stops. Stop must return once the
// target has ended; it may take as long as its own timeouts allow but
// must not hang past its forceful step.
type Target interface {
	Name() string
	Stop() (process.Outcome, error)
}

// TargetFunc adapts a function to Target.
type TargetFunc struct {
	TargetName string
	Fn         func() (process.Outcome, error)
}

// Name implements Target.
func (f TargetFunc) Name() string { return f.TargetName }

// Stop implements Target.
func (f TargetFunc) Stop() (process.Outcome, error) { return f.Fn() }

// handleTarget stops a child process with a fixed policy.
type handleTarget struct {
	handle *process.Handle
	policy process.Policy
}

// HandleTarget returns a Target that terminates h with policy p.
func HandleTarget(h *process.Handle, p process.Policy) Target {
	return handleTarget{handle: h, policy: p}
}

func (t handleTarget) Name() string { return t.handle.Tag() }

func (t handleTarget) Stop() (process.Outcome, error) {
	return t.handle.Terminate(t.policy)
}

// TargetResult contains the result of stopping a single target.
type TargetResult struct {
	// Name of the target.
	Name string

	// Duration is how long the target took to stop.
	Duration time.Duration

	// Outcome reports how the target ended.
	Outcome process.Outcome

	// Err is any error returned by the target, or a recovered panic.
	Err error
}

// Result contains the complete shutdown result.
type Result struct {
	// TotalDuration of the entire shutdown.
	TotalDuration time.Duration

	// Results for each target, in the order the targets were given.
	Results []TargetResult

	// Err is the overall error (nil if all targets succeeded).
	Err error
}

// Failed returns true if any target failed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedTargets returns the names of targets that failed.
func (r *Result) FailedTargets() []string {
	var failed []string
	for _, tr := range r.Results {
		if tr.Err != nil {
			failed = append(failed, tr.Name)
		}
	}
	return failed
}

// Forced returns the names of targets that needed the forceful step.
func (r *Result) Forced() []string {
	var forced []string
	for _, tr := range r.Results {
		if tr.Outcome.Forced {
			forced = append(forced, tr.Name)
		}
	}
	return forced
}

// Config configures the sequencer.
type Config struct {
	// OnProgress is called when each target completes.
	// Can be used for logging.
	OnProgress func(result TargetResult)
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{}
}
