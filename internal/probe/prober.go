// Package probe talks to the simulator's console socket: it sends the
// stimuli and collects a bounded response.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

// Stage identifies where a probe failed.
type Stage string

const (
	StageDial    Stage = "dial"
	StageSend    Stage = "send"
	StageReceive Stage = "receive"
)

// Error is a socket failure at a specific stage.
type Error struct {
	Stage   Stage
	Address string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Address, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Dialer opens connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober performs one stimuli/response exchange.
type Prober struct {
	Address     string
	Dialer      Dialer        // nil uses a zero net.Dialer
	DialTimeout time.Duration // 0 means no dial deadline beyond ctx
	Timeout     time.Duration // bounds send+receive; 0 means none
	Logger      *slog.Logger
}

// Exchange connects, writes stimuli in a single write, and collects
// exactly lines terminators worth of response.
//
// On failure the partial response is returned alongside an *Error.
// A peer that hangs up early yields an error matching ErrIncompleteTranscript.
func (p *Prober) Exchange(ctx context.Context, stimuli []byte, lines int) ([]byte, error) {
	logger := p.logger()

	dialer := p.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	dialCtx := ctx
	if p.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.DialTimeout)
		defer cancel()
	}

	logger.Debug("dialing console", "address", p.Address)
	conn, err := dialer.DialContext(dialCtx, "tcp", p.Address)
	if err != nil {
		return nil, &Error{Stage: StageDial, Address: p.Address, Err: err}
	}
	defer conn.Close()

	ioCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ioCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	if deadline, ok := ioCtx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return nil, &Error{Stage: StageSend, Address: p.Address, Err: err}
		}
	}

	if err := writeAll(conn, stimuli); err != nil {
		return nil, &Error{Stage: StageSend, Address: p.Address, Err: err}
	}
	logger.Debug("stimuli sent", "bytes", len(stimuli))

	recvd, err := Collect(ioCtx, conn, lines)
	if err != nil {
		return recvd, &Error{Stage: StageReceive, Address: p.Address, Err: err}
	}
	logger.Debug("response collected", "bytes", len(recvd), "lines", lines)

	return recvd, nil
}

func (p *Prober) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeAll(w io.Writer, b []byte) error {
	n, err := w.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

// IsIncomplete reports whether err is an early hang-up by the peer.
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncompleteTranscript)
}
