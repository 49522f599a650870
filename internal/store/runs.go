package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/xlsprobe/internal/harness"
	"github.com/roach88/xlsprobe/internal/transcript"
)

// ErrRunNotFound is returned by ReadRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Run is one ledger entry.
type Run struct {
	ID             string              `json:"id"`
	Seq            int64               `json:"seq"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     time.Time           `json:"finished_at"`
	Simulator      string              `json:"simulator"`
	Firmware       string              `json:"firmware,omitempty"`
	Command        string              `json:"command,omitempty"`
	Verdict        harness.Verdict     `json:"verdict"`
	FailureKind    harness.FailureKind `json:"failure_kind,omitempty"`
	FailureMessage string              `json:"failure_message,omitempty"`
	LinesExpected  int                 `json:"lines_expected"`
	BytesReceived  int                 `json:"bytes_received"`
	Drained        int                 `json:"drained"`

	// ListRuns leaves Records empty.
	Records []transcript.Record `json:"records,omitempty"`
}

// RunFromResult builds the ledger entry for a finished run.
func RunFromResult(r *harness.Result, simulator, firmware, command string) Run {
	run := Run{
		ID:            r.RunID,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		Simulator:     simulator,
		Firmware:      firmware,
		Command:       command,
		Verdict:       r.Verdict,
		LinesExpected: r.LinesExpected,
		BytesReceived: len(r.Response),
		Drained:       r.Drained,
	}
	if r.Failure != nil {
		run.FailureKind = r.Failure.Kind
		run.FailureMessage = r.Failure.Error()
	}
	if r.Report != nil {
		run.Records = r.Report.Records
	}
	return run
}

// Duration is the wall time the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// WriteRun appends run and its diff records to the ledger.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: writing the same run id
// twice keeps the first entry.
func (s *Store) WriteRun(ctx context.Context, run Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return fmt.Errorf("write run: next seq: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, started_at, finished_at, simulator, firmware, command,
		 verdict, failure_kind, failure_message, lines_expected, bytes_received, drained)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		seq,
		marshalTime(run.StartedAt),
		marshalTime(run.FinishedAt),
		run.Simulator,
		run.Firmware,
		run.Command,
		string(run.Verdict),
		string(run.FailureKind),
		run.FailureMessage,
		run.LinesExpected,
		run.BytesReceived,
		run.Drained,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	for i, rec := range run.Records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO diff_records (run_id, idx, position, op, content)
			VALUES (?, ?, ?, ?, ?)
		`, run.ID, i, rec.Position, rec.Op.String(), rec.Content)
		if err != nil {
			return fmt.Errorf("write diff record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write run: commit: %w", err)
	}
	return nil
}

// Filter narrows ListRuns.
type Filter struct {
	Firmware string // empty matches every firmware
	Limit    int    // 0 means no limit
}

const runColumns = `id, seq, started_at, finished_at, simulator, firmware, command,
	verdict, failure_kind, failure_message, lines_expected, bytes_received, drained`

// ListRuns returns runs newest first, without their diff records.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListRuns(ctx context.Context, f Filter) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if f.Firmware != "" {
		where = append(where, "firmware = ?")
		args = append(args, f.Firmware)
	}
	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns one run with its diff records.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, op, content
		FROM diff_records
		WHERE run_id = ?
		ORDER BY idx ASC
	`, id)
	if err != nil {
		return Run{}, fmt.Errorf("query diff records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec transcript.Record
			op  string
		)
		if err := rows.Scan(&rec.Position, &op, &rec.Content); err != nil {
			return Run{}, fmt.Errorf("scan diff record: %w", err)
		}
		if rec.Op, err = transcript.ParseOperation(op); err != nil {
			return Run{}, err
		}
		run.Records = append(run.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("iterate diff records: %w", err)
	}
	return run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run                  Run
		started, finished    string
		verdict, failureKind string
	)
	err := sc.Scan(
		&run.ID,
		&run.Seq,
		&started,
		&finished,
		&run.Simulator,
		&run.Firmware,
		&run.Command,
		&verdict,
		&failureKind,
		&run.FailureMessage,
		&run.LinesExpected,
		&run.BytesReceived,
		&run.Drained,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, err
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	if run.StartedAt, err = unmarshalTime(started); err != nil {
		return Run{}, err
	}
	if run.FinishedAt, err = unmarshalTime(finished); err != nil {
		return Run{}, err
	}
	run.Verdict = harness.Verdict(verdict)
	run.FailureKind = harness.FailureKind(failureKind)
	return run, nil
}
