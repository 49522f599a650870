package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/roach88/xlsprobe/internal/simulator"
)

// ScriptedProcess is a simulator.Process whose diagnostic stream replays
// fixed lines.
//
// After the script is exhausted the stream closes, unless the process was
// created with keepOpen, in which case it stays open until Terminate.
type ScriptedProcess struct {
	lines        chan string
	done         chan struct{}
	once         sync.Once
	terminations atomic.Int64
}

// NewScriptedProcess starts replaying script.
func NewScriptedProcess(script []string, keepOpen bool) *ScriptedProcess {
	p := &ScriptedProcess{
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(p.lines)
		for _, line := range script {
			select {
			case p.lines <- line:
			case <-p.done:
				return
			}
		}
		if keepOpen {
			<-p.done
		}
	}()
	return p
}

// Lines implements simulator.Process.
func (p *ScriptedProcess) Lines() <-chan string {
	return p.lines
}

// Terminate implements simulator.Process.
func (p *ScriptedProcess) Terminate() error {
	p.terminations.Add(1)
	p.once.Do(func() { close(p.done) })
	return nil
}

// Terminations returns how many times Terminate was called.
func (p *ScriptedProcess) Terminations() int {
	return int(p.terminations.Load())
}

// ScriptedLauncher hands out a prepared process, or fails with Err.
type ScriptedLauncher struct {
	Process *ScriptedProcess
	Err     error

	mu       sync.Mutex
	launches int
	last     simulator.Command
}

// Launch implements simulator.Launcher.
func (l *ScriptedLauncher) Launch(ctx context.Context, cmd simulator.Command) (simulator.Process, error) {
	l.mu.Lock()
	l.launches++
	l.last = cmd
	l.mu.Unlock()

	if l.Err != nil {
		return nil, l.Err
	}
	return l.Process, nil
}

// Launches returns the number of Launch calls.
func (l *ScriptedLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// LastCommand returns the command passed to the most recent Launch.
func (l *ScriptedLauncher) LastCommand() simulator.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
