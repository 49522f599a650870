package simulator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/text/encoding/unicode"
)

// ErrNotStarted is returned by Launch when the child could not be spawned.
var ErrNotStarted = errors.New("simulator not started")

// Process is a running simulator.
//
// Lines delivers the diagnostic (stderr) stream one line at a time and is
// closed when the stream ends. It is a single cursor: consumers take turns
// reading it, they never read it concurrently.
//
// Terminate kills the child. It is safe to call any number of times, from
// any goroutine, including after the child has already exited.
type Process interface {
	Lines() <-chan string
	Terminate() error
}

// Launcher starts simulator processes.
type Launcher interface {
	Launch(ctx context.Context, cmd Command) (Process, error)
}

// ExecLauncher launches the simulator as an operating system process.
type ExecLauncher struct {
	// Stdout receives the simulator's standard output. nil discards it.
	Stdout io.Writer
	Logger *slog.Logger
}

// Launch spawns the simulator with its stderr piped.
//
// ctx only bounds the spawn itself; the child lives until Terminate.
func (l *ExecLauncher) Launch(ctx context.Context, c Command) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotStarted, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotStarted, err)
	}

	logger := l.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	// #nosec G204 -- the executable is operator configuration.
	cmd := exec.Command(c.Executable, c.Args()...)
	cmd.Dir = c.Dir
	cmd.Stdout = l.Stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %w", ErrNotStarted, err)
	}

	logger.Info("starting simulator", "cmd", c.String())
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotStarted, err)
	}
	logger.Debug("simulator started", "pid", cmd.Process.Pid)

	p := &ExecProcess{
		cmd:    cmd,
		lines:  make(chan string),
		done:   make(chan struct{}),
		logger: logger,
	}
	go p.pump(stderr)
	return p, nil
}

// ExecProcess is a Process backed by os/exec.
type ExecProcess struct {
	cmd    *exec.Cmd
	lines  chan string
	done   chan struct{}
	logger *slog.Logger

	termOnce sync.Once
	termErr  error
}

// Lines implements Process.
func (p *ExecProcess) Lines() <-chan string {
	return p.lines
}

// Terminate implements Process. The first call kills and reaps the child;
// later calls return the first call's result.
func (p *ExecProcess) Terminate() error {
	p.termOnce.Do(func() {
		close(p.done)
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.termErr = fmt.Errorf("kill simulator: %w", err)
		}
		waitErr := p.cmd.Wait()
		p.logger.Debug("simulator terminated", "pid", p.cmd.Process.Pid, "wait", waitErr)
	})
	return p.termErr
}

// pump forwards decoded stderr lines until the stream ends or the process
// is terminated. Invalid UTF-8 is replaced rather than rejected.
func (p *ExecProcess) pump(r io.Reader) {
	defer close(p.lines)

	br := bufio.NewReader(unicode.UTF8.NewDecoder().Reader(r))
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			select {
			case p.lines <- strings.TrimRight(line, "\r\n"):
			case <-p.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				p.logger.Debug("diagnostic stream error", "error", err)
			}
			return
		}
	}
}

// Run launches c with l, passes the process to fn, and terminates it when
// fn returns, whatever the outcome. A Terminate error is returned only when
// fn succeeded.
func Run(ctx context.Context, l Launcher, c Command, fn func(Process) error) (err error) {
	proc, err := l.Launch(ctx, c)
	if err != nil {
		return err
	}
	defer func() {
		if termErr := proc.Terminate(); termErr != nil && err == nil {
			err = termErr
		}
	}()
	return fn(proc)
}
