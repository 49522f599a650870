package simulator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "XLSPROBE_FAKE_SIMULATOR"

// TestMain lets the test binary double as a fake simulator. When the
// helper variable is set the process never reaches the test runner, so
// the simulator flags it receives are never parsed as test flags.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(fakeSimulator(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

func fakeSimulator(mode string, args []string) int {
	switch mode {
	case "ready":
		fmt.Fprintln(os.Stderr, "booting...")
		fmt.Fprintln(os.Stderr, "args: "+strings.Join(args, " "))
		fmt.Fprintln(os.Stderr, "info: "+DefaultSentinel)
		time.Sleep(time.Hour)
	case "exit":
		fmt.Fprintln(os.Stderr, "booting...")
		fmt.Fprintln(os.Stderr, "no listener")
		return 0
	case "flood":
		fmt.Fprintln(os.Stderr, DefaultSentinel)
		line := strings.Repeat("x", 200)
		for i := 0; i < 5000; i++ {
			fmt.Fprintln(os.Stderr, line)
		}
		fmt.Fprintln(os.Stderr, "flood done")
		time.Sleep(time.Hour)
	case "invalid-utf8":
		os.Stderr.Write([]byte("bad \xff byte\r\n"))
		return 0
	}
	return 2
}

func helperCommand(t *testing.T, mode string) Command {
	t.Helper()
	t.Setenv(helperEnv, mode)
	return Command{
		Executable:     os.Args[0],
		DebugFlags:     DefaultDebugFlags,
		PlatformConfig: "configs/rv32/rv32.py",
		Firmware:       "fw_test",
		Plugin:         "libxls.so",
		XLSConfig:      "config.textproto",
	}
}

func TestExecLauncher_ReadyThenTerminate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	l := &ExecLauncher{}
	proc, err := l.Launch(ctx, helperCommand(t, "ready"))
	require.NoError(t, err)

	var echo bytes.Buffer
	captured, err := WaitReady(ctx, proc.Lines(), DefaultSentinel, &echo)
	require.NoError(t, err)
	require.Len(t, captured, 3)
	assert.Equal(t, "booting...", captured[0])
	assert.Equal(t,
		"args: --debug-flags=XlsDev --listener-mode=on configs/rv32/rv32.py --firmware fw_test --xls-plugin libxls.so --xls-config config.textproto",
		captured[1])
	assert.Contains(t, echo.String(), DefaultSentinel)

	require.NoError(t, proc.Terminate())
	// Idempotent.
	require.NoError(t, proc.Terminate())

	// The stream closes once the child is gone.
	assert.Equal(t, 0, Drain(ctx, proc.Lines()))
}

func TestExecLauncher_ExitBeforeReady(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	l := &ExecLauncher{}
	proc, err := l.Launch(ctx, helperCommand(t, "exit"))
	require.NoError(t, err)
	defer proc.Terminate()

	captured, err := WaitReady(ctx, proc.Lines(), DefaultSentinel, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, []string{"booting...", "no listener"}, captured)

	// Terminating an exited child is not an error.
	assert.NoError(t, proc.Terminate())
}

func TestExecLauncher_DrainKeepsChildRunning(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	l := &ExecLauncher{}
	proc, err := l.Launch(ctx, helperCommand(t, "flood"))
	require.NoError(t, err)
	defer proc.Terminate()

	_, err = WaitReady(ctx, proc.Lines(), DefaultSentinel, nil)
	require.NoError(t, err)

	// Wait for the marker after the flood; the child would block on a full
	// pipe if nobody consumed its stderr.
	_, err = WaitReady(ctx, proc.Lines(), "flood done", nil)
	require.NoError(t, err)
}

func TestExecLauncher_InvalidUTF8IsReplaced(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	l := &ExecLauncher{}
	proc, err := l.Launch(ctx, helperCommand(t, "invalid-utf8"))
	require.NoError(t, err)
	defer proc.Terminate()

	line, ok := <-proc.Lines()
	require.True(t, ok)
	assert.Equal(t, "bad � byte", line)
}

func TestExecLauncher_MissingExecutable(t *testing.T) {
	l := &ExecLauncher{}
	cmd := Command{
		Executable:     "/definitely/not/a/simulator",
		PlatformConfig: "rv32.py",
		Firmware:       "fw",
		Plugin:         "plugin.so",
		XLSConfig:      "config.textproto",
	}

	_, err := l.Launch(context.Background(), cmd)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestExecLauncher_InvalidCommand(t *testing.T) {
	l := &ExecLauncher{}

	_, err := l.Launch(context.Background(), Command{Executable: "gem5.debug"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Contains(t, err.Error(), "firmware")
}

func TestRun_TerminatesOnError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var got Process
	boom := fmt.Errorf("boom")
	err := Run(ctx, &ExecLauncher{}, helperCommand(t, "ready"), func(p Process) error {
		got = p
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The stream is closed because Run terminated the child.
	select {
	case <-drainDone(got):
	case <-ctx.Done():
		t.Fatal("diagnostic stream still open after Run returned")
	}
}

func drainDone(p Process) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		Drain(context.Background(), p.Lines())
		close(done)
	}()
	return done
}

type stubProcess struct {
	lines        chan string
	terminations int
	termErr      error
}

func (p *stubProcess) Lines() <-chan string { return p.lines }

func (p *stubProcess) Terminate() error {
	p.terminations++
	return p.termErr
}

type stubLauncher struct {
	proc *stubProcess
	err  error
}

func (l *stubLauncher) Launch(context.Context, Command) (Process, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.proc, nil
}

func TestRun_TerminatesOnceOnSuccess(t *testing.T) {
	proc := &stubProcess{lines: make(chan string)}

	calls := 0
	err := Run(context.Background(), &stubLauncher{proc: proc}, Command{}, func(p Process) error {
		calls++
		assert.Same(t, proc, p)
		assert.Equal(t, 0, proc.terminations, "terminated before fn returned")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, proc.terminations)
}

func TestRun_LaunchFailureSkipsFn(t *testing.T) {
	called := false
	err := Run(context.Background(), &stubLauncher{err: ErrNotStarted}, Command{}, func(Process) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrNotStarted)
	assert.False(t, called)
}

func TestRun_TerminateErrorReportedOnlyAfterSuccess(t *testing.T) {
	killErr := fmt.Errorf("kill failed")

	proc := &stubProcess{lines: make(chan string), termErr: killErr}
	err := Run(context.Background(), &stubLauncher{proc: proc}, Command{}, func(Process) error { return nil })
	require.ErrorIs(t, err, killErr)

	boom := fmt.Errorf("boom")
	proc = &stubProcess{lines: make(chan string), termErr: killErr}
	err = Run(context.Background(), &stubLauncher{proc: proc}, Command{}, func(Process) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, proc.terminations)
}
