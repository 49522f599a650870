package harness

import (
	"fmt"
	"io"
)

// summaryDiagnosticLines bounds the diagnostic tail printed for startup failures.
const summaryDiagnosticLines = 20

// WriteSummary writes the single pass/fail message and, when the response
// differs from the reference, the diff.
func (r *Result) WriteSummary(w io.Writer) error {
	if r.Pass() {
		_, err := fmt.Fprintln(w, "The output matches the reference!")
		return err
	}
	if r.Failure == nil {
		_, err := fmt.Fprintf(w, "Run did not finish (state %s)\n", r.State)
		return err
	}

	switch r.Failure.Kind {
	case KindMismatch:
		fmt.Fprintln(w, "The output does not match the reference!")
	case KindIncomplete:
		fmt.Fprintf(w, "The output is incomplete: %v\n", r.Failure.Err)
	case KindStartup:
		fmt.Fprintf(w, "The simulator never became ready: %v\n", r.Failure.Err)
		tail := r.Diagnostics
		if len(tail) > summaryDiagnosticLines {
			tail = tail[len(tail)-summaryDiagnosticLines:]
		}
		if len(tail) > 0 {
			fmt.Fprintln(w, "Last diagnostic lines:")
			for _, line := range tail {
				fmt.Fprintf(w, "  %s\n", line)
			}
		}
		return nil
	default:
		_, err := fmt.Fprintf(w, "The console exchange failed: %v\n", r.Failure.Err)
		return err
	}

	if r.Report == nil {
		return nil
	}
	return r.Report.Format(w)
}
