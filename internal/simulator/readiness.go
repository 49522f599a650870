package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultSentinel is the diagnostic line gem5 prints once its console
// socket accepts connections.
const DefaultSentinel = "system.platform.terminal: Listening for connections on port 3456"

// maxCapturedLines bounds the diagnostic tail kept for startup reports.
const maxCapturedLines = 200

// ErrNotReady is returned when the readiness sentinel was never observed.
var ErrNotReady = errors.New("simulator never became ready")

// WaitReady consumes lines until one contains sentinel.
//
// Every non-empty line is echoed to echo (when non-nil) as it arrives.
// It returns the tail of the lines consumed, including the sentinel line.
// If the stream closes first, or ctx ends, the error wraps ErrNotReady.
// WaitReady stops reading immediately after the sentinel.
func WaitReady(ctx context.Context, lines <-chan string, sentinel string, echo io.Writer) ([]string, error) {
	var captured []string
	for {
		select {
		case <-ctx.Done():
			return captured, fmt.Errorf("%w: waiting for %q: %w", ErrNotReady, sentinel, ctx.Err())

		case line, ok := <-lines:
			if !ok {
				return captured, fmt.Errorf("%w: diagnostic stream ended before %q", ErrNotReady, sentinel)
			}
			if line == "" {
				continue
			}
			if echo != nil {
				fmt.Fprintln(echo, line)
			}
			captured = append(captured, line)
			if len(captured) > maxCapturedLines {
				captured = captured[len(captured)-maxCapturedLines:]
			}
			if strings.Contains(line, sentinel) {
				return captured, nil
			}
		}
	}
}

// Drain discards lines until the stream closes or ctx is cancelled, and
// returns how many lines it discarded. Cancellation is observed between
// lines.
func Drain(ctx context.Context, lines <-chan string) int {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n
		case _, ok := <-lines:
			if !ok {
				return n
			}
			n++
		}
	}
}
