// Package shutdown stops a set of supervised children concurrently.
//
// # Overview
//
// A Sequencer fans out Stop to every Target at once and joins on all of
// them, so the total time is bounded by the slowest target rather than
// the sum. Every target is given the chance to finish; failures and
// panics are collected in the Result, never propagated early.
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                          Sequencer                           │
//	├──────────────────────────────────────────────────────────────┤
//	│   ┌──────────┐     ┌──────────┐     ┌──────────┐             │
//	│   │  store   │     │ frontend │     │ capture  │ (concurrent)│
//	│   └──────────┘     └──────────┘     └──────────┘             │
//	│                        join                                  │
//	└──────────────────────────────────────────────────────────────┘
//
// # Usage
//
//	seq := shutdown.NewSequencer(shutdown.Config{
//	    OnProgress: func(r shutdown.TargetResult) {
//	        logger.ShutdownStep(r.Name, r.Duration, r.Outcome.Forced, r.Err)
//	    },
//	})
//	result := seq.Run(
//	    shutdown.HandleTarget(gui, process.DefaultPolicy()),
//	    shutdown.HandleTarget(console, process.DefaultPolicy()),
//	    storeTarget,
//	)
//	if result.Failed() {
//	    log.Printf("failed: %v", result.FailedTargets())
//	}
//
// Run executes once. A second call, for example from a repeated
// interrupt, waits for the first to finish and returns the same Result.
package shutdown
