package harness

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xlsprobe/internal/simulator"
	"github.com/roach88/xlsprobe/internal/testutil"
	"github.com/roach88/xlsprobe/internal/transcript"
)

var testCommand = simulator.Command{
	Executable:     "gem5/build/RISCV/gem5.debug",
	DebugFlags:     simulator.DefaultDebugFlags,
	PlatformConfig: "gem5/configs/rv32/rv32.py",
	Firmware:       "build/fw_sim",
	Plugin:         "build/libxls.so",
	XLSConfig:      "ci/test_data/config.textproto",
}

func readyScript(extra ...string) []string {
	return append([]string{"booting...", "info: " + simulator.DefaultSentinel}, extra...)
}

func testOptions(t *testing.T, launcher simulator.Launcher, addr, runID string) Options {
	t.Helper()
	return Options{
		Command:      testCommand,
		Launcher:     launcher,
		Stimuli:      transcript.Normalize([]byte("go\n")),
		Reference:    transcript.Normalize([]byte("OK\nDONE\n")),
		Address:      addr,
		Dialer:       &testutil.CountingDialer{},
		ReadyTimeout: 10 * time.Second,
		ProbeTimeout: 10 * time.Second,
		DialTimeout:  5 * time.Second,
		RunIDs:       testutil.NewFixedRunIDGenerator(runID),
		Now:          testutil.NewStepClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Second).Now,
	}
}

func TestRun_Pass(t *testing.T) {
	peer := testutil.NewConsolePeer(t, []byte("OK\rDONE\r"), testutil.WithStimuliLen(3))
	proc := testutil.NewScriptedProcess(readyScript("after ready"), true)
	launcher := &testutil.ScriptedLauncher{Process: proc}

	opts := testOptions(t, launcher, peer.Addr(), "run-pass")
	var out, echo bytes.Buffer
	opts.Out = &out
	opts.Echo = &echo

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.True(t, result.Pass())
	assert.Equal(t, VerdictPass, result.Verdict)
	assert.Equal(t, 0, result.ExitCode())
	assert.NoError(t, result.Err())
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, 2, result.LinesExpected)
	assert.Equal(t, "OK\rDONE\r", string(result.Response))
	require.NotNil(t, result.Report)
	assert.True(t, result.Report.Match)
	assert.Equal(t, time.Second, result.Duration())

	assert.Equal(t, "go\r", string(peer.Received()))
	assert.Equal(t, 1, launcher.Launches())
	assert.Equal(t, testCommand, launcher.LastCommand())
	assert.Equal(t, 1, proc.Terminations())

	assert.Contains(t, out.String(), "Found 2 lines in the reference file")
	assert.Contains(t, out.String(), "Simulator is ready!")
	assert.Contains(t, out.String(), "Sending stimuli: go\n")
	assert.Contains(t, echo.String(), simulator.DefaultSentinel)
	assert.NotContains(t, echo.String(), "after ready")

	AssertGolden(t, "pass", result)
}

func TestRun_ContentMismatch(t *testing.T) {
	peer := testutil.NewConsolePeer(t, []byte("OK\rFAIL\r"), testutil.WithStimuliLen(3))
	proc := testutil.NewScriptedProcess(readyScript(), true)

	result, err := Run(context.Background(), testOptions(t, &testutil.ScriptedLauncher{Process: proc}, peer.Addr(), "run-mismatch"))
	require.NoError(t, err)

	assert.Equal(t, VerdictFail, result.Verdict)
	assert.Equal(t, 1, result.ExitCode())
	assert.True(t, IsContentMismatch(result.Err()))
	require.NotNil(t, result.Report)
	assert.False(t, result.Report.Match)
	assert.Equal(t, 1, result.Report.Segments)
	assert.NotEmpty(t, result.Report.Records)
	assert.Equal(t, 1, proc.Terminations())

	AssertGolden(t, "content_mismatch", result)
}

func TestRun_NeverReady(t *testing.T) {
	proc := testutil.NewScriptedProcess([]string{"booting...", "no listener"}, false)
	opts := testOptions(t, &testutil.ScriptedLauncher{Process: proc}, testutil.ClosedAddress(t), "run-never-ready")
	dialer := &testutil.CountingDialer{}
	opts.Dialer = dialer

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, VerdictError, result.Verdict)
	assert.Equal(t, 1, result.ExitCode())
	assert.True(t, IsStartupFailure(result.Err()))
	assert.ErrorIs(t, result.Err(), simulator.ErrNotReady)
	assert.Equal(t, []string{"booting...", "no listener"}, result.Diagnostics)
	assert.Equal(t, 0, dialer.Calls(), "no connection may be attempted before readiness")
	assert.Equal(t, 1, proc.Terminations())
	assert.Nil(t, result.Report)

	AssertGolden(t, "never_ready", result)
}

func TestRun_ReadyTimeout(t *testing.T) {
	// Stream stays open but never prints the sentinel.
	proc := testutil.NewScriptedProcess([]string{"booting..."}, true)
	opts := testOptions(t, &testutil.ScriptedLauncher{Process: proc}, testutil.ClosedAddress(t), "run-timeout")
	opts.ReadyTimeout = 50 * time.Millisecond

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.True(t, IsStartupFailure(result.Err()))
	assert.ErrorIs(t, result.Err(), context.DeadlineExceeded)
	assert.Equal(t, 1, proc.Terminations())
}

func TestRun_LaunchFailure(t *testing.T) {
	launcher := &testutil.ScriptedLauncher{Err: simulator.ErrNotStarted}

	result, err := Run(context.Background(), testOptions(t, launcher, testutil.ClosedAddress(t), "run-launch"))
	require.NoError(t, err)

	assert.Equal(t, VerdictError, result.Verdict)
	assert.True(t, IsStartupFailure(result.Err()))
	assert.ErrorIs(t, result.Err(), simulator.ErrNotStarted)
	assert.Equal(t, []State{StateNotStarted, StateStarting, StateDone}, states(result))
}

func TestRun_IncompleteTranscript(t *testing.T) {
	peer := testutil.NewConsolePeer(t, []byte("OK\r"), testutil.WithStimuliLen(3))
	proc := testutil.NewScriptedProcess(readyScript(), true)

	result, err := Run(context.Background(), testOptions(t, &testutil.ScriptedLauncher{Process: proc}, peer.Addr(), "run-incomplete"))
	require.NoError(t, err)

	assert.Equal(t, VerdictFail, result.Verdict)
	assert.True(t, IsIncompleteTranscript(result.Err()))
	assert.False(t, IsContentMismatch(result.Err()))
	assert.Equal(t, "OK\r", string(result.Response))
	require.NotNil(t, result.Report, "partial response is still compared")
	assert.False(t, result.Report.Match)
	assert.NotEmpty(t, result.Report.Records)
	assert.Equal(t, 1, proc.Terminations())
}

func TestRun_ConnectionFailure(t *testing.T) {
	proc := testutil.NewScriptedProcess(readyScript(), true)
	opts := testOptions(t, &testutil.ScriptedLauncher{Process: proc}, testutil.ClosedAddress(t), "run-conn")
	dialer := &testutil.CountingDialer{}
	opts.Dialer = dialer

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, VerdictError, result.Verdict)
	assert.True(t, IsConnectionFailure(result.Err()))
	assert.Equal(t, 1, dialer.Calls())
	assert.Equal(t, 1, proc.Terminations())
}

func TestRun_DrainsWhileProbing(t *testing.T) {
	noise := make([]string, 100)
	for i := range noise {
		noise[i] = "xls: tick"
	}
	peer := testutil.NewConsolePeer(t, []byte("OK\rDONE\r"), testutil.WithStimuliLen(3))
	proc := testutil.NewScriptedProcess(readyScript(noise...), true)

	result, err := Run(context.Background(), testOptions(t, &testutil.ScriptedLauncher{Process: proc}, peer.Addr(), "run-drain"))
	require.NoError(t, err)

	assert.True(t, result.Pass())
	assert.LessOrEqual(t, result.Drained, len(noise))
	assert.Equal(t, 1, proc.Terminations())
}

func TestRun_ZeroLineReference(t *testing.T) {
	peer := testutil.NewConsolePeer(t, nil, testutil.WithStimuliLen(3), testutil.WithHold())
	proc := testutil.NewScriptedProcess(readyScript(), true)
	opts := testOptions(t, &testutil.ScriptedLauncher{Process: proc}, peer.Addr(), "run-empty")
	opts.Reference = []byte{}

	result, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.True(t, result.Pass())
	assert.Equal(t, 0, result.LinesExpected)
	assert.Empty(t, result.Response)
}

func TestRun_RequiresLauncher(t *testing.T) {
	_, err := Run(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Launcher")
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proc := testutil.NewScriptedProcess(nil, true)
	result, err := Run(ctx, testOptions(t, &testutil.ScriptedLauncher{Process: proc}, testutil.ClosedAddress(t), "run-cancel"))
	require.NoError(t, err)

	assert.True(t, IsStartupFailure(result.Err()))
	assert.True(t, errors.Is(result.Err(), context.Canceled))
	assert.Equal(t, 1, proc.Terminations())
}

func TestResult_WriteSummary(t *testing.T) {
	t.Run("pass", func(t *testing.T) {
		r := &Result{Verdict: VerdictPass}
		var buf bytes.Buffer
		require.NoError(t, r.WriteSummary(&buf))
		assert.Equal(t, "The output matches the reference!\n", buf.String())
	})

	t.Run("mismatch", func(t *testing.T) {
		r := &Result{
			Verdict: VerdictFail,
			Failure: &Failure{Kind: KindMismatch, Message: "1 differing segment(s)"},
			Report:  transcript.Compare([]byte("OK\rDONE\r"), []byte("OK\rFAIL\r")),
		}
		var buf bytes.Buffer
		require.NoError(t, r.WriteSummary(&buf))
		out := buf.String()
		assert.True(t, strings.HasPrefix(out, "The output does not match the reference!\n"))
		assert.Contains(t, out, `byte 3: - "DONE"`)
		assert.Contains(t, out, "+FAIL")
	})

	t.Run("startup", func(t *testing.T) {
		r := &Result{
			Verdict:     VerdictError,
			Failure:     &Failure{Kind: KindStartup, Message: "simulator never became ready", Err: simulator.ErrNotReady},
			Diagnostics: []string{"booting...", "no listener"},
		}
		var buf bytes.Buffer
		require.NoError(t, r.WriteSummary(&buf))
		assert.Equal(t,
			"The simulator never became ready: simulator never became ready\nLast diagnostic lines:\n  booting...\n  no listener\n",
			buf.String())
	})

	t.Run("connection", func(t *testing.T) {
		r := &Result{
			Verdict: VerdictError,
			Failure: &Failure{Kind: KindConnection, Message: "console exchange failed", Err: errors.New("dial refused")},
		}
		var buf bytes.Buffer
		require.NoError(t, r.WriteSummary(&buf))
		assert.Equal(t, "The console exchange failed: dial refused\n", buf.String())
	})
}

func TestFailure_Error(t *testing.T) {
	f := &Failure{Kind: KindConnection, Message: "console exchange failed", Err: errors.New("refused")}
	assert.Equal(t, "CONNECTION_FAILURE: console exchange failed: refused", f.Error())
	assert.Equal(t, VerdictError, f.Verdict())

	f = &Failure{Kind: KindMismatch, Message: "1 differing segment(s)"}
	assert.Equal(t, "CONTENT_MISMATCH: 1 differing segment(s)", f.Error())
	assert.Equal(t, VerdictFail, f.Verdict())
	assert.Equal(t, VerdictFail, (&Failure{Kind: KindIncomplete}).Verdict())
	assert.Equal(t, VerdictError, (&Failure{Kind: KindStartup}).Verdict())

	assert.False(t, IsStartupFailure(errors.New("plain")))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "AwaitingReady", StateAwaitingReady.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func states(r *Result) []State {
	out := make([]State, len(r.Trace))
	for i, tr := range r.Trace {
		out[i] = tr.State
	}
	return out
}
