// Package harness runs one response test against a simulator.
//
// A run starts the simulator, waits for its console listener to come up,
// then sends the stimuli over the console socket and compares what comes
// back with a reference transcript. The simulator is always terminated
// before Run returns.
//
// # States
//
// Every run walks the same states, recorded in Result.Trace:
//
//	NotStarted -> Starting -> AwaitingReady -> Ready -> Probing -> Done
//
// A run that fails to start, or whose simulator never prints the readiness
// sentinel, jumps from Starting or AwaitingReady straight to Done.
//
// # Concurrency
//
// While probing, two goroutines share the run: one keeps reading and
// discarding the simulator's diagnostic stream so the child never blocks
// on a full stderr pipe, the other performs the socket exchange. The drain
// is cancelled when the exchange returns, and Run waits for both.
//
// # Verdicts
//
//   - Pass: the response matched the reference.
//   - Fail: the response differed (CONTENT_MISMATCH) or the simulator hung
//     up early (INCOMPLETE_TRANSCRIPT).
//   - Error: the simulator never became ready (STARTUP_FAILURE) or the
//     socket failed (CONNECTION_FAILURE).
//
// Only Pass maps to exit code 0.
//
// # Usage
//
//	result, err := harness.Run(ctx, harness.Options{
//	    Command:   cmd,
//	    Launcher:  &simulator.ExecLauncher{Stdout: os.Stdout},
//	    Stimuli:   stimuli,
//	    Reference: reference,
//	    Echo:      os.Stderr,
//	    Out:       os.Stdout,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.Exit(result.ExitCode())
package harness
