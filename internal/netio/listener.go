// Package netio wraps a TCP listener with a context-aware accept loop,
// the transport layer beneath the game session scheduler.
package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrClosed is returned by Accept once the listener has been closed.
var ErrClosed = errors.New("netio: listener closed")

// acceptPollInterval is the default poll interval (spec.md §6's
// ACCEPT_IDLE_SLEEP) bounding how long a single blocking Accept call may
// run before the loop re-checks ctx, so shutdown is observed promptly
// even though net.Listener.Accept has no native context support.
const acceptPollInterval = 100 * time.Millisecond

// Listener wraps a net.Listener and provides a context-aware, non-blocking
// accept loop in the spirit of the scheduler's accept iteration: each call
// to Accept either returns a connection, returns ErrClosed, or returns
// context.DeadlineExceeded/Canceled once ctx is done.
type Listener struct {
	ln           net.Listener
	pollInterval time.Duration
}

// Option configures optional Listener parameters.
type Option func(*Listener)

// WithPollInterval overrides ACCEPT_IDLE_SLEEP (spec.md §6), the
// deadline Accept sets on the underlying listener between context
// checks. A value <= 0 leaves the default in place.
func WithPollInterval(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// Listen binds addr and returns a Listener ready to accept connections.
func Listen(addr string, opts ...Option) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netio: listen %s: %w", addr, err)
	}
	l := &Listener{ln: ln, pollInterval: acceptPollInterval}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// NewFromListener wraps an already-bound net.Listener. Useful for tests
// that substitute a net.Pipe-backed or in-memory listener.
func NewFromListener(ln net.Listener, opts ...Option) *Listener {
	l := &Listener{ln: ln, pollInterval: acceptPollInterval}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Accept blocks until a connection arrives, ctx is cancelled, or the
// listener is closed. It polls the underlying Accept with a short
// deadline so shutdown via ctx cancellation is observed within one
// poll interval, mirroring the scheduler's non-blocking accept
// iteration.
func (l *Listener) Accept(ctx context.Context) (net.Conn, error) {
	type deadliner interface {
		SetDeadline(time.Time) error
	}

	dl, hasDeadline := l.ln.(deadliner)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if hasDeadline {
			_ = dl.SetDeadline(time.Now().Add(l.pollInterval))
		}

		conn, err := l.ln.Accept()
		if err == nil {
			return conn, nil
		}

		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}

		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			continue
		}

		return nil, fmt.Errorf("netio: accept: %w", err)
	}
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close closes the underlying listener, unblocking any in-flight Accept.
func (l *Listener) Close() error {
	if err := l.ln.Close(); err != nil {
		return fmt.Errorf("netio: close listener: %w", err)
	}
	return nil
}
