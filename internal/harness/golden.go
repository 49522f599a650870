package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the golden-file form of a run: everything that is
// deterministic for a given simulator behavior.
type TraceSnapshot struct {
	RunID   string       `json:"run_id"`
	Verdict Verdict      `json:"verdict"`
	Failure FailureKind  `json:"failure,omitempty"`
	Trace   []Transition `json:"trace"`
}

// Snapshot returns the deterministic view of r.
func (r *Result) Snapshot() TraceSnapshot {
	s := TraceSnapshot{
		RunID:   r.RunID,
		Verdict: r.Verdict,
		Trace:   r.Trace,
	}
	if r.Failure != nil {
		s.Failure = r.Failure.Kind
	}
	return s
}

// AssertGolden compares the run's snapshot against
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	data, err := json.MarshalIndent(result.Snapshot(), "", "  ")
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
