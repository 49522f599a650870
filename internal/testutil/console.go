// Package testutil provides fakes for the simulator side of a probe run:
// a console socket peer, a scripted diagnostic stream and deterministic
// clock and run id helpers.
package testutil

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
)

// ConsolePeer is a fake simulator console listening on an ephemeral port.
//
// For every accepted connection it reads the configured number of stimuli
// bytes, writes the scripted response, and then either hangs up or holds
// the connection open until the test ends.
type ConsolePeer struct {
	ln       net.Listener
	response []byte
	readN    int
	hold     bool

	mu       sync.Mutex
	received []byte
	accepts  int

	closing chan struct{}
	wg      sync.WaitGroup
}

// PeerOption configures a ConsolePeer.
type PeerOption func(*ConsolePeer)

// WithStimuliLen makes the peer read n bytes before responding.
func WithStimuliLen(n int) PeerOption {
	return func(p *ConsolePeer) { p.readN = n }
}

// WithHold keeps connections open after the response is written.
func WithHold() PeerOption {
	return func(p *ConsolePeer) { p.hold = true }
}

// NewConsolePeer starts a peer that answers with response.
// The listener is closed when the test finishes.
func NewConsolePeer(t testing.TB, response []byte, opts ...PeerOption) *ConsolePeer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	p := &ConsolePeer{
		ln:       ln,
		response: response,
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(1)
	go p.serve()

	t.Cleanup(func() {
		close(p.closing)
		ln.Close()
		p.wg.Wait()
	})
	return p
}

// Addr returns the host:port the peer listens on.
func (p *ConsolePeer) Addr() string {
	return p.ln.Addr().String()
}

// Received returns the stimuli bytes read so far.
func (p *ConsolePeer) Received() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.received...)
}

// Accepts returns the number of connections accepted.
func (p *ConsolePeer) Accepts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepts
}

func (p *ConsolePeer) serve() {
	defer p.wg.Done()
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		p.accepts++
		p.mu.Unlock()

		p.wg.Add(1)
		go p.handle(conn)
	}
}

func (p *ConsolePeer) handle(conn net.Conn) {
	defer p.wg.Done()
	defer conn.Close()

	if p.readN > 0 {
		buf := make([]byte, p.readN)
		n, _ := io.ReadFull(conn, buf)
		p.mu.Lock()
		p.received = append(p.received, buf[:n]...)
		p.mu.Unlock()
	}

	if _, err := conn.Write(p.response); err != nil {
		return
	}
	if p.hold {
		<-p.closing
	}
}

// ClosedAddress returns a loopback address with nothing listening on it.
func ClosedAddress(t testing.TB) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// CountingDialer counts dial attempts before delegating to net.Dialer.
type CountingDialer struct {
	net.Dialer
	calls atomic.Int64
}

// DialContext implements probe.Dialer.
func (d *CountingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.calls.Add(1)
	return d.Dialer.DialContext(ctx, network, address)
}

// Calls returns the number of dial attempts.
func (d *CountingDialer) Calls() int {
	return int(d.calls.Load())
}
