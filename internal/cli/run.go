package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/xlsprobe/internal/config"
	"github.com/roach88/xlsprobe/internal/firmware"
	"github.com/roach88/xlsprobe/internal/harness"
	"github.com/roach88/xlsprobe/internal/simulator"
	"github.com/roach88/xlsprobe/internal/store"
	"github.com/roach88/xlsprobe/internal/transcript"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string

	Simulator    string
	Gem5Root     string
	Executable   string
	Firmware     string
	Plugin       string
	XLSConfig    string
	Stimuli      string
	Reference    string
	TestDataDir  string
	ReadyTimeout time.Duration
	ProbeTimeout time.Duration
	DialTimeout  time.Duration
	HistoryDB    string

	// Launcher overrides how the simulator is started (for testing).
	// If nil, the simulator runs as a real subprocess.
	Launcher simulator.Launcher

	// RunIDs overrides the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs harness.RunIDGenerator

	// Lookup reads the build environment. If nil, defaults to os.LookupEnv.
	Lookup firmware.LookupFunc

	// Address overrides the console address from config (for testing).
	Address string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the response test",
		Long: `Start the simulator, send the stimuli and compare its console output.

Stimuli, reference and XLS config paths default to the test data for the
firmware named by MAKE_CONFIG and PLATFORM. Settings can also be given in a
YAML file with --config; flags override the file.

Exit codes:
  0  response matches the reference
  1  mismatch, incomplete response, or simulator/console failure
  2  invalid flags, config or inputs

Example:
  xlsprobe run --simulator gem5 --plugin build/libxls.so --firmware build/fw_sim
  xlsprobe run --config ci/xlsprobe.yaml --history-db runs.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	f.StringVar(&opts.Simulator, "simulator", string(simulator.Gem5), "simulator to run ("+simulator.UsageValues()+")")
	f.StringVar(&opts.Gem5Root, "gem5-root", config.DefaultGem5Root, "gem5 checkout containing the build and configs")
	f.StringVar(&opts.Executable, "executable", "", "simulator binary (default <gem5-root>/build/RISCV/gem5.debug)")
	f.StringVar(&opts.Firmware, "firmware", "", "firmware image to boot")
	f.StringVar(&opts.Plugin, "plugin", "", "XLS plugin shared library")
	f.StringVar(&opts.XLSConfig, "xls-config", "", "XLS plugin config (default derived from MAKE_CONFIG)")
	f.StringVar(&opts.Stimuli, "stimuli", "", "stimuli file (default derived from MAKE_CONFIG and PLATFORM)")
	f.StringVar(&opts.Reference, "reference", "", "reference transcript (default derived from MAKE_CONFIG and PLATFORM)")
	f.StringVar(&opts.TestDataDir, "test-data", firmware.DefaultTestDataDir, "directory holding stimuli, references and XLS configs")
	f.DurationVar(&opts.ReadyTimeout, "ready-timeout", config.DefaultReadyTimeout, "how long to wait for the console listener (0 waits forever)")
	f.DurationVar(&opts.ProbeTimeout, "probe-timeout", config.DefaultProbeTimeout, "bound on the console exchange (0 waits forever)")
	f.DurationVar(&opts.DialTimeout, "dial-timeout", config.DefaultDialTimeout, "bound on connecting to the console")
	f.StringVar(&opts.HistoryDB, "history-db", "", "record the run in this SQLite database")

	return cmd
}

// loadRunConfig layers defaults, the config file and explicitly set flags.
// On failure it also returns the CLI error code describing the problem.
func loadRunConfig(opts *RunOptions, cmd *cobra.Command) (config.Config, string, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		var schemaErr *config.SchemaError
		if errors.As(err, &schemaErr) {
			return cfg, ErrCodeConfigInvalid, err
		}
		return cfg, ErrCodeConfigRead, err
	}

	f := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if f.Changed(name) {
			*dst = v
		}
	}
	if f.Changed("simulator") {
		cfg.Simulator = simulator.Kind(opts.Simulator)
	}
	set("gem5-root", &cfg.Gem5Root, opts.Gem5Root)
	set("executable", &cfg.Executable, opts.Executable)
	set("firmware", &cfg.Firmware, opts.Firmware)
	set("plugin", &cfg.Plugin, opts.Plugin)
	set("xls-config", &cfg.XLSConfig, opts.XLSConfig)
	set("stimuli", &cfg.Stimuli, opts.Stimuli)
	set("reference", &cfg.Reference, opts.Reference)
	set("test-data", &cfg.TestDataDir, opts.TestDataDir)
	set("history-db", &cfg.HistoryDB, opts.HistoryDB)
	if f.Changed("ready-timeout") {
		cfg.ReadyTimeout = config.Duration(opts.ReadyTimeout)
	}
	if f.Changed("probe-timeout") {
		cfg.ProbeTimeout = config.Duration(opts.ProbeTimeout)
	}
	if f.Changed("dial-timeout") {
		cfg.DialTimeout = config.Duration(opts.DialTimeout)
	}
	if opts.Address != "" {
		cfg.Address = opts.Address
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.Resolve(lookup); err != nil {
		return cfg, ErrCodeEnvironment, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, ErrCodeGeneric, err
	}
	return cfg, "", nil
}

func runProbe(opts *RunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	cfg, code, err := loadRunConfig(opts, cmd)
	if err != nil {
		_ = formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid run configuration", err)
	}

	stimuli, err := transcript.Load(cfg.Stimuli)
	if err != nil {
		_ = formatter.Error(ErrCodeInputMissing, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to load stimuli", err)
	}
	reference, err := transcript.Load(cfg.Reference)
	if err != nil {
		_ = formatter.Error(ErrCodeInputMissing, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to load reference", err)
	}

	// Operator output goes to stdout in text mode and to stderr in JSON
	// mode so the JSON document stays the only thing on stdout.
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		out = cmd.ErrOrStderr()
	}

	command := cfg.Command()
	fmt.Fprintf(out, "RUNNING %s\n", command)
	logger.Debug("resolved config",
		"simulator", cfg.Simulator,
		"stimuli", cfg.Stimuli,
		"reference", cfg.Reference,
		"address", cfg.Address,
		"ready_timeout", time.Duration(cfg.ReadyTimeout),
		"probe_timeout", time.Duration(cfg.ProbeTimeout))

	launcher := opts.Launcher
	if launcher == nil {
		launcher = &simulator.ExecLauncher{Stdout: out, Logger: logger}
	}

	// Setup signal handling so an interrupted run still kills the simulator
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := harness.Run(ctx, harness.Options{
		Command:      command,
		Launcher:     launcher,
		Stimuli:      stimuli,
		Reference:    reference,
		Address:      cfg.Address,
		Sentinel:     cfg.Sentinel,
		ReadyTimeout: time.Duration(cfg.ReadyTimeout),
		ProbeTimeout: time.Duration(cfg.ProbeTimeout),
		DialTimeout:  time.Duration(cfg.DialTimeout),
		Echo:         cmd.ErrOrStderr(),
		Out:          out,
		Logger:       logger,
		RunIDs:       opts.RunIDs,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start run", err)
	}

	if cfg.HistoryDB != "" {
		recordRun(ctx, logger, cfg, result, command.String())
	}

	if err := writeRunResult(formatter, result, command.String()); err != nil {
		return err
	}
	if !result.Pass() {
		return WrapExitError(ExitFailure, "response test failed", result.Err())
	}
	return nil
}

// recordRun appends the run to the history database. History is best
// effort: a failure is logged and never changes the run's exit code.
func recordRun(ctx context.Context, logger *slog.Logger, cfg config.Config, result *harness.Result, command string) {
	st, err := store.Open(cfg.HistoryDB)
	if err != nil {
		logger.Warn("history unavailable", "path", cfg.HistoryDB, "error", err)
		return
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing history database", "error", closeErr)
		}
	}()

	run := store.RunFromResult(result, string(cfg.Simulator), filepath.Base(cfg.Firmware), command)
	// The run context may already be cancelled by a signal; the record
	// should still be written.
	if err := st.WriteRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("record run", "run_id", result.RunID, "error", err)
		return
	}
	logger.Debug("run recorded", "run_id", result.RunID, "path", cfg.HistoryDB)
}

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	*harness.Result
	Command string `json:"command"`
}

func writeRunResult(formatter *OutputFormatter, result *harness.Result, command string) error {
	if formatter.Format != "json" {
		return result.WriteSummary(formatter.Writer)
	}
	resp := CLIResponse{
		Status: "ok",
		Data:   RunOutput{Result: result, Command: command},
		RunID:  result.RunID,
	}
	if !result.Pass() {
		resp.Status = "error"
		resp.Error = &CLIError{Code: ErrCodeTestFailed, Message: result.Err().Error()}
	}
	return encodeJSON(formatter.Writer, resp)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
