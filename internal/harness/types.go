package harness

import (
	"fmt"
	"time"

	"github.com/roach88/xlsprobe/internal/transcript"
)

// State is a step of the run state machine.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateAwaitingReady
	StateReady
	StateProbing
	StateDone
)

var stateNames = [...]string{
	StateNotStarted:    "NotStarted",
	StateStarting:      "Starting",
	StateAwaitingReady: "AwaitingReady",
	StateReady:         "Ready",
	StateProbing:       "Probing",
	StateDone:          "Done",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Verdict is the outcome of a finished run.
type Verdict string

const (
	VerdictPass  Verdict = "pass"
	VerdictFail  Verdict = "fail"
	VerdictError Verdict = "error"
)

// Transition records entering a state.
type Transition struct {
	Seq   int64 `json:"seq"`
	State State `json:"state"`
}

// Result is the outcome of one run.
type Result struct {
	RunID   string  `json:"run_id"`
	Verdict Verdict `json:"verdict"`
	State   State   `json:"state"`

	// Trace lists every state entered, in order.
	Trace []Transition `json:"trace"`

	// LinesExpected is the number of terminators in the reference.
	LinesExpected int `json:"lines_expected"`

	// Response holds the raw bytes received, possibly partial.
	Response []byte `json:"-"`

	// Report is set once a complete response was compared, and from the
	// partial bytes on INCOMPLETE_TRANSCRIPT.
	Report *transcript.Report `json:"report,omitempty"`

	// Failure is nil on Pass.
	Failure *Failure `json:"failure,omitempty"`

	// Diagnostics is the tail of the simulator's diagnostic stream seen
	// while waiting for readiness.
	Diagnostics []string `json:"diagnostics,omitempty"`

	// Drained counts diagnostic lines discarded while probing.
	Drained int `json:"drained"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func newResult(runID string) *Result {
	r := &Result{
		RunID: runID,
		Trace: []Transition{},
	}
	r.enter(StateNotStarted)
	return r
}

func (r *Result) enter(s State) {
	r.State = s
	r.Trace = append(r.Trace, Transition{Seq: int64(len(r.Trace) + 1), State: s})
}

// Pass reports whether the response matched the reference.
func (r *Result) Pass() bool {
	return r.Verdict == VerdictPass
}

// ExitCode is 0 on Pass and 1 otherwise.
func (r *Result) ExitCode() int {
	if r.Pass() {
		return 0
	}
	return 1
}

// Err returns the run's failure as an error, or nil on Pass.
func (r *Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// Duration is the wall time between start and finish.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
