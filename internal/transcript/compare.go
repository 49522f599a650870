package transcript

import (
	"fmt"
	"io"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Operation is the kind of an edit between reference and response.
type Operation int8

const (
	OpEqual Operation = iota
	OpDelete
	OpInsert
)

// String returns the lowercase operation name.
func (o Operation) String() string {
	switch o {
	case OpEqual:
		return "equal"
	case OpDelete:
		return "delete"
	case OpInsert:
		return "insert"
	default:
		return fmt.Sprintf("Operation(%d)", int8(o))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Operation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Operation) UnmarshalText(text []byte) error {
	op, err := ParseOperation(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// ParseOperation is the inverse of Operation.String.
func ParseOperation(s string) (Operation, error) {
	switch s {
	case "equal":
		return OpEqual, nil
	case "delete":
		return OpDelete, nil
	case "insert":
		return OpInsert, nil
	}
	return 0, fmt.Errorf("unknown diff operation %q", s)
}

// Symbol returns the ndiff-style prefix for the operation.
func (o Operation) Symbol() string {
	switch o {
	case OpDelete:
		return "-"
	case OpInsert:
		return "+"
	default:
		return " "
	}
}

// Record is one non-equal edit, in stream order.
// Position is the byte offset of Content in the reference (OpDelete) or
// in the received response (OpInsert), after normalization and trimming.
type Record struct {
	Position int       `json:"position"`
	Op       Operation `json:"op"`
	Content  string    `json:"content"`
}

// Report is the outcome of comparing a response against a reference.
type Report struct {
	Match    bool     `json:"match"`
	Expected string   `json:"expected"`
	Actual   string   `json:"actual"`
	Records  []Record `json:"records,omitempty"`

	// Segments counts maximal runs of adjacent non-equal records.
	Segments int `json:"segments"`
}

// PrepareResponse folds "\r\n" pairs into Terminator and trims surrounding whitespace.
func PrepareResponse(raw []byte) string {
	s := strings.ReplaceAll(string(raw), "\r\n", string(Terminator))
	return strings.TrimSpace(s)
}

// Compare checks a collected response against a normalized reference.
func Compare(reference, response []byte) *Report {
	report := &Report{
		Expected: strings.TrimSpace(string(reference)),
		Actual:   PrepareResponse(response),
	}
	if report.Expected == report.Actual {
		report.Match = true
		return report
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(report.Expected, report.Actual, false)

	var expOff, actOff int
	inSegment := false
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			expOff += len(d.Text)
			actOff += len(d.Text)
			inSegment = false
			continue
		case diffmatchpatch.DiffDelete:
			report.Records = append(report.Records, Record{Position: expOff, Op: OpDelete, Content: d.Text})
			expOff += len(d.Text)
		case diffmatchpatch.DiffInsert:
			report.Records = append(report.Records, Record{Position: actOff, Op: OpInsert, Content: d.Text})
			actOff += len(d.Text)
		}
		if !inSegment {
			report.Segments++
			inSegment = true
		}
	}

	return report
}

// WriteRecords writes one line per diff record.
func (r *Report) WriteRecords(w io.Writer) error {
	for _, rec := range r.Records {
		if _, err := fmt.Fprintf(w, "byte %d: %s %q\n", rec.Position, rec.Op.Symbol(), rec.Content); err != nil {
			return err
		}
	}
	return nil
}

// Unified returns a line-aligned unified diff of reference and response.
// Canonical terminators are shown as newlines. Empty when the transcripts match.
func (r *Report) Unified() (string, error) {
	if r.Match {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(displayLines(r.Expected)),
		B:        difflib.SplitLines(displayLines(r.Actual)),
		FromFile: "reference",
		ToFile:   "response",
		Context:  3,
	})
}

// Format writes the diff records followed by the unified diff.
func (r *Report) Format(w io.Writer) error {
	if r.Match {
		return nil
	}
	if err := r.WriteRecords(w); err != nil {
		return err
	}
	unified, err := r.Unified()
	if err != nil {
		return fmt.Errorf("unified diff: %w", err)
	}
	_, err = fmt.Fprintf(w, "\n%s", unified)
	return err
}

func displayLines(s string) string {
	return strings.ReplaceAll(s, string(Terminator), "\n")
}
