package shutdown

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	lserrors "github.com/vinayprograms/laststop/errors"
	"github.com/vinayprograms/laststop/process"
)

func ok(name string, delay time.Duration) Target {
	return TargetFunc{TargetName: name, Fn: func() (process.Outcome, error) {
		time.Sleep(delay)
		return process.Outcome{}, nil
	}}
}

// TestBasicRunWithSingleTarget tests a run with a single target.
func TestBasicRunWithSingleTarget(t *testing.T) {
	seq := NewSequencer(DefaultConfig())

	called := false
	result := seq.Run(TargetFunc{TargetName: "test", Fn: func() (process.Outcome, error) {
		called = true
		return process.Outcome{ExitCode: 0}, nil
	}})

	if !called {
		t.Fatal("expected target to be stopped")
	}
	select {
	case <-seq.Done():
	default:
		t.Fatal("expected Done channel to be closed")
	}
	if result.Failed() {
		t.Fatalf("expected success, got %v", result.Err)
	}
	if len(result.Results) != 1 || result.Results[0].Name != "test" {
		t.Fatalf("unexpected results: %+v", result.Results)
	}
	if seq.Result() != result {
		t.Error("Result() should return the run result")
	}
}

// TestTargetsRunConcurrently tests that the total time tracks the slowest
// target, not the sum.
func TestTargetsRunConcurrently(t *testing.T) {
	seq := NewSequencer(DefaultConfig())

	targets := make([]Target, 10)
	for i := range targets {
		targets[i] = ok("t", 100*time.Millisecond)
	}

	start := time.Now()
	result := seq.Run(targets...)
	elapsed := time.Since(start)

	if result.Failed() {
		t.Fatalf("unexpected failure: %v", result.Err)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("expected concurrent stop (~100ms), took %v", elapsed)
	}
}

// TestFailuresAreAggregated tests that a failing target does not block the
// others and is reported by name.
func TestFailuresAreAggregated(t *testing.T) {
	seq := NewSequencer(DefaultConfig())

	var slowDone atomic.Bool
	result := seq.Run(
		TargetFunc{TargetName: "bad", Fn: func() (process.Outcome, error) {
			return process.Outcome{}, errors.New("no such process")
		}},
		TargetFunc{TargetName: "slow", Fn: func() (process.Outcome, error) {
			time.Sleep(50 * time.Millisecond)
			slowDone.Store(true)
			return process.Outcome{Forced: true}, nil
		}},
	)

	if !slowDone.Load() {
		t.Fatal("Run returned before all targets settled")
	}
	if !errors.Is(result.Err, ErrTargetFailed) {
		t.Fatalf("expected ErrTargetFailed, got %v", result.Err)
	}
	failed := result.FailedTargets()
	if len(failed) != 1 || failed[0] != "bad" {
		t.Errorf("expected [bad], got %v", failed)
	}
	forced := result.Forced()
	if len(forced) != 1 || forced[0] != "slow" {
		t.Errorf("expected [slow] forced, got %v", forced)
	}
	if !strings.Contains(result.Results[0].Err.Error(), "stop bad") {
		t.Errorf("expected error to name the target, got %v", result.Results[0].Err)
	}
}

// TestPanicIsRecordedAsFailure tests that a panicking target is contained.
func TestPanicIsRecordedAsFailure(t *testing.T) {
	seq := NewSequencer(DefaultConfig())

	result := seq.Run(
		TargetFunc{TargetName: "panics", Fn: func() (process.Outcome, error) {
			panic("boom")
		}},
		ok("fine", 0),
	)

	if !result.Failed() {
		t.Fatal("expected failure")
	}
	if !lserrors.Is(result.Results[0].Err, lserrors.ErrCodePanic) {
		t.Errorf("expected PANIC code, got %v", result.Results[0].Err)
	}
	if result.Results[1].Err != nil {
		t.Errorf("other target affected: %v", result.Results[1].Err)
	}
}

// TestOnProgressCallback tests that OnProgress fires for each target.
func TestOnProgressCallback(t *testing.T) {
	var mu sync.Mutex
	var names []string
	seq := NewSequencer(Config{OnProgress: func(r TargetResult) {
		mu.Lock()
		names = append(names, r.Name)
		mu.Unlock()
	}})

	seq.Run(ok("a", 0), ok("b", 0), ok("c", 0))

	mu.Lock()
	defer mu.Unlock()
	if len(names) != 3 {
		t.Errorf("expected 3 progress callbacks, got %v", names)
	}
}

// TestRunTwiceIsCoalesced tests that a second Run returns the first result
// without stopping targets again.
func TestRunTwiceIsCoalesced(t *testing.T) {
	seq := NewSequencer(DefaultConfig())

	var calls atomic.Int32
	target := TargetFunc{TargetName: "once", Fn: func() (process.Outcome, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return process.Outcome{}, nil
	}}

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = seq.Run(target)
		}(i)
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected one stop, got %d", calls.Load())
	}
	if results[0] != results[1] {
		t.Error("expected both callers to get the same result")
	}
}

// TestNilTargetsSkipped tests that missing participants are ignored.
func TestNilTargetsSkipped(t *testing.T) {
	seq := NewSequencer(DefaultConfig())
	result := seq.Run(nil, ok("x", 0), nil)
	if len(result.Results) != 1 {
		t.Errorf("expected 1 result, got %d", len(result.Results))
	}
}

// TestEmptyRun tests a run with no targets.
func TestEmptyRun(t *testing.T) {
	result := NewSequencer(DefaultConfig()).Run()
	if result.Failed() || len(result.Results) != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
}
