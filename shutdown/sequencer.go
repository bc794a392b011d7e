package shutdown

import (
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/laststop/errors"
)

// Sequencer stops a set of targets concurrently and joins on all of them.
// It runs once; later calls to Run wait for and return the first result.
type Sequencer struct {
	config Config

	once   sync.Once
	done   chan struct{}
	result *Result
}

// NewSequencer creates a new sequencer.
func NewSequencer(config Config) *Sequencer {
	return &Sequencer{
		config: config,
		done:   make(chan struct{}),
	}
}

// Run stops every target concurrently and returns once all of them have
// settled. A target that fails or panics is recorded and does not hold
// up the others. Nil targets are skipped.
func (s *Sequencer) Run(targets ...Target) *Result {
	s.once.Do(func() {
		s.result = s.run(targets)
		close(s.done)
	})
	<-s.done
	return s.result
}

// Done returns a channel that is closed when Run has completed.
func (s *Sequencer) Done() <-chan struct{} {
	return s.done
}

// Result returns the shutdown result.
// Only valid after Done() is closed.
func (s *Sequencer) Result() *Result {
	select {
	case <-s.done:
		return s.result
	default:
		return nil
	}
}

func (s *Sequencer) run(targets []Target) *Result {
	start := time.Now()

	live := make([]Target, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			live = append(live, t)
		}
	}

	results := make([]TargetResult, len(live))
	var wg sync.WaitGroup
	for i, t := range live {
		wg.Add(1)
		go func(idx int, t Target) {
			defer wg.Done()
			results[idx] = s.stop(t)
			if s.config.OnProgress != nil {
				s.config.OnProgress(results[idx])
			}
		}(i, t)
	}
	wg.Wait()

	result := &Result{
		TotalDuration: time.Since(start),
		Results:       results,
	}
	for _, tr := range results {
		if tr.Err != nil {
			result.Err = ErrTargetFailed
			break
		}
	}
	return result
}

func (s *Sequencer) stop(t Target) (tr TargetResult) {
	tr.Name = t.Name()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			tr.Err = errors.RecoverPanic(r)
		}
		tr.Duration = time.Since(start)
		if tr.Err != nil {
			tr.Err = fmt.Errorf("stop %s: %w", tr.Name, tr.Err)
		}
	}()
	tr.Outcome, tr.Err = t.Stop()
	return tr
}
