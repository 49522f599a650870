package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/roach88/xlsprobe/internal/transcript"
)

// ErrIncompleteTranscript is returned when the peer closes the connection
// before the expected number of lines has been received.
var ErrIncompleteTranscript = errors.New("incomplete transcript")

// deadliner is implemented by net.Conn.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Collect reads from r until lines canonical terminators have been seen.
//
// Bytes are read one at a time so nothing past the final terminator is
// consumed. The returned slice holds every byte received, including a
// partial transcript when an error is returned.
//
// If r supports read deadlines, the context deadline is applied and
// cancellation of ctx unblocks a pending read.
func Collect(ctx context.Context, r io.Reader, lines int) ([]byte, error) {
	if lines <= 0 {
		return []byte{}, nil
	}

	if d, ok := r.(deadliner); ok {
		if deadline, ok := ctx.Deadline(); ok {
			if err := d.SetReadDeadline(deadline); err != nil {
				return nil, fmt.Errorf("set read deadline: %w", err)
			}
		}
		stop := context.AfterFunc(ctx, func() {
			_ = d.SetReadDeadline(time.Now())
		})
		defer stop()
	}

	var (
		recvd []byte
		seen  int
		buf   [1]byte
	)
	for seen < lines {
		n, err := r.Read(buf[:])
		if n > 0 {
			recvd = append(recvd, buf[0])
			if buf[0] == transcript.Terminator {
				seen++
			}
			continue
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return recvd, fmt.Errorf("%w: received %d of %d lines", ErrIncompleteTranscript, seen, lines)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return recvd, fmt.Errorf("receive after %d of %d lines: %w", seen, lines, ctxErr)
		}
		return recvd, fmt.Errorf("receive after %d of %d lines: %w", seen, lines, err)
	}

	return recvd, nil
}
