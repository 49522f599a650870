package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/xlsprobe/internal/config"
	"github.com/roach88/xlsprobe/internal/store"
	"github.com/roach88/xlsprobe/internal/transcript"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database   string
	ConfigPath string
	Firmware   string
	Limit      int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs",
		Long: `List runs recorded with --history-db, newest first.

Given a run id, print that run in full, including the diff records of a
failing run.

Example:
  xlsprobe history --db runs.db --limit 10
  xlsprobe history --db runs.db --firmware fw_sim_axi
  xlsprobe history --db runs.db 01890a5d-ac96-774b-bcce-b302099a8057`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the history database")
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "read history_db from this config file")
	cmd.Flags().StringVar(&opts.Firmware, "firmware", "", "only list runs of this firmware")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of runs to list (0 lists all)")

	return cmd
}

func runHistory(opts *HistoryOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	dbPath := opts.Database
	if dbPath == "" && opts.ConfigPath != "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			_ = formatter.Error(ErrCodeConfigInvalid, err.Error(), nil)
			return WrapExitError(ExitCommandError, "invalid config", err)
		}
		dbPath = cfg.HistoryDB
	}
	if dbPath == "" {
		msg := "no history database: pass --db or a config with history_db"
		_ = formatter.Error(ErrCodeHistory, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		_ = formatter.Error(ErrCodeHistory, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open history database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if len(args) == 1 {
		run, err := st.ReadRun(ctx, args[0])
		if errors.Is(err, store.ErrRunNotFound) {
			_ = formatter.Error(ErrCodeRunNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "unknown run", err)
		}
		if err != nil {
			_ = formatter.Error(ErrCodeHistory, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		if opts.Format == "json" {
			return formatter.Success(run)
		}
		return writeRunDetail(formatter.Writer, run)
	}

	runs, err := st.ListRuns(ctx, store.Filter{Firmware: opts.Firmware, Limit: opts.Limit})
	if err != nil {
		_ = formatter.Error(ErrCodeHistory, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	if opts.Format == "json" {
		return formatter.Success(runs)
	}
	writeRunTable(formatter.Writer, runs)
	return nil
}

func writeRunTable(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	fmt.Fprintf(w, "%-5s %-36s %-7s %-22s %-20s %s\n", "SEQ", "RUN", "VERDICT", "FAILURE", "FIRMWARE", "STARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%-5d %-36s %-7s %-22s %-20s %s\n",
			r.Seq, r.ID, r.Verdict, dash(string(r.FailureKind)), dash(r.Firmware),
			r.StartedAt.Local().Format(time.DateTime))
	}
}

func writeRunDetail(w io.Writer, r store.Run) error {
	fmt.Fprintf(w, "Run:       %s\n", r.ID)
	fmt.Fprintf(w, "Verdict:   %s\n", r.Verdict)
	if r.FailureKind != "" {
		fmt.Fprintf(w, "Failure:   %s\n", r.FailureMessage)
	}
	fmt.Fprintf(w, "Simulator: %s\n", r.Simulator)
	fmt.Fprintf(w, "Firmware:  %s\n", dash(r.Firmware))
	fmt.Fprintf(w, "Started:   %s\n", r.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Duration:  %s\n", r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "Lines:     %d expected, %d bytes received\n", r.LinesExpected, r.BytesReceived)
	if r.Command != "" {
		fmt.Fprintf(w, "Command:   %s\n", r.Command)
	}
	if len(r.Records) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	return (&transcript.Report{Records: r.Records}).WriteRecords(w)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
