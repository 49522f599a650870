package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/xlsprobe/internal/probe"
	"github.com/roach88/xlsprobe/internal/simulator"
	"github.com/roach88/xlsprobe/internal/transcript"
)

// DefaultAddress is the simulator's console socket.
const DefaultAddress = "127.0.0.1:3456"

// RunIDGenerator produces run identifiers.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable run ids.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Options configures a run. Command, Launcher, Stimuli and Reference are
// required; everything else has a default.
type Options struct {
	Command  simulator.Command
	Launcher simulator.Launcher

	// Stimuli and Reference are already normalized.
	Stimuli   []byte
	Reference []byte

	Address  string // default DefaultAddress
	Sentinel string // default simulator.DefaultSentinel
	Dialer   probe.Dialer

	// Zero disables the corresponding deadline.
	ReadyTimeout time.Duration
	ProbeTimeout time.Duration
	DialTimeout  time.Duration

	// Echo receives diagnostic lines while waiting for readiness.
	Echo io.Writer
	// Out receives operator progress messages.
	Out io.Writer

	Logger *slog.Logger
	RunIDs RunIDGenerator
	Now    func() time.Time
}

func (o *Options) setDefaults() {
	if o.Address == "" {
		o.Address = DefaultAddress
	}
	if o.Sentinel == "" {
		o.Sentinel = simulator.DefaultSentinel
	}
	if o.Out == nil {
		o.Out = io.Discard
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.RunIDs == nil {
		o.RunIDs = UUIDv7Generator{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Run executes one response test.
//
// Every test outcome, including startup and socket failures, is reported
// through the Result; the error is non-nil only for invalid Options.
// The simulator, once launched, is terminated exactly once before Run
// returns.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Launcher == nil {
		return nil, errors.New("harness: Options.Launcher is required")
	}
	opts.setDefaults()

	r := &runner{opts: opts, result: newResult(opts.RunIDs.Generate())}
	r.logger = opts.Logger.With("run_id", r.result.RunID)
	r.result.StartedAt = opts.Now()

	r.run(ctx)

	r.result.FinishedAt = opts.Now()
	r.enter(StateDone)
	if r.result.Failure == nil {
		r.result.Verdict = VerdictPass
	} else {
		r.result.Verdict = r.result.Failure.Verdict()
	}
	r.logger.Info("run finished", "verdict", r.result.Verdict, "duration", r.result.Duration())
	return r.result, nil
}

type runner struct {
	opts   Options
	result *Result
	logger *slog.Logger
}

func (r *runner) enter(s State) {
	r.result.enter(s)
	r.logger.Debug("state", "state", s)
}

func (r *runner) fail(kind FailureKind, msg string, err error) {
	r.result.Failure = &Failure{Kind: kind, Message: msg, Err: err}
	r.logger.Info("run failed", "kind", kind, "error", r.result.Failure)
}

func (r *runner) run(ctx context.Context) {
	res := r.result
	res.LinesExpected = transcript.LineCount(r.opts.Reference)
	fmt.Fprintf(r.opts.Out, "Found %d lines in the reference file\n", res.LinesExpected)

	r.enter(StateStarting)
	launched := false
	err := simulator.Run(ctx, r.opts.Launcher, r.opts.Command, func(proc simulator.Process) error {
		launched = true
		r.session(ctx, proc)
		return nil
	})
	switch {
	case err != nil && !launched:
		r.fail(KindStartup, "could not start simulator", err)
	case err != nil:
		r.logger.Warn("terminate simulator", "error", err)
	}
}

// session runs a launched simulator from readiness to verdict.
func (r *runner) session(ctx context.Context, proc simulator.Process) {
	res := r.result
	r.enter(StateAwaitingReady)
	var err error
	readyCtx := ctx
	if r.opts.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		readyCtx, cancel = context.WithTimeout(ctx, r.opts.ReadyTimeout)
		defer cancel()
	}
	res.Diagnostics, err = simulator.WaitReady(readyCtx, proc.Lines(), r.opts.Sentinel, r.opts.Echo)
	if err != nil {
		r.fail(KindStartup, "simulator never became ready", err)
		return
	}
	r.enter(StateReady)
	fmt.Fprintln(r.opts.Out, "Simulator is ready!")

	r.enter(StateProbing)
	recvd, err := r.probe(ctx, proc)
	res.Response = recvd
	if err != nil {
		if probe.IsIncomplete(err) {
			res.Report = transcript.Compare(r.opts.Reference, recvd)
			r.fail(KindIncomplete, fmt.Sprintf("expected %d lines", res.LinesExpected), err)
		} else {
			r.fail(KindConnection, "console exchange failed", err)
		}
		return
	}

	res.Report = transcript.Compare(r.opts.Reference, recvd)
	if !res.Report.Match {
		r.fail(KindMismatch, fmt.Sprintf("%d differing segment(s)", res.Report.Segments), nil)
	}
}

// probe drains diagnostics while exchanging stimuli and response, and
// returns once both have stopped.
func (r *runner) probe(ctx context.Context, proc simulator.Process) ([]byte, error) {
	drainCtx, stopDrain := context.WithCancel(ctx)
	defer stopDrain()

	prober := &probe.Prober{
		Address:     r.opts.Address,
		Dialer:      r.opts.Dialer,
		DialTimeout: r.opts.DialTimeout,
		Timeout:     r.opts.ProbeTimeout,
		Logger:      r.logger,
	}

	var (
		g        errgroup.Group
		recvd    []byte
		probeErr error
	)
	g.Go(func() error {
		r.result.Drained = simulator.Drain(drainCtx, proc.Lines())
		return nil
	})
	g.Go(func() error {
		defer stopDrain()
		fmt.Fprintf(r.opts.Out, "Sending stimuli: %s\n", display(r.opts.Stimuli))
		recvd, probeErr = prober.Exchange(ctx, r.opts.Stimuli, r.result.LinesExpected)
		fmt.Fprintf(r.opts.Out, "Received the following output:\n\n%s\n\n", display(recvd))
		return nil
	})
	_ = g.Wait()

	r.logger.Debug("probe finished", "bytes", len(recvd), "drained", r.result.Drained)
	return recvd, probeErr
}

func display(b []byte) string {
	return strings.ReplaceAll(string(b), string(transcript.Terminator), "\n")
}
