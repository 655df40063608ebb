package game

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/lattice-ctf/flagbroker/internal/netio"
	"github.com/lattice-ctf/flagbroker/internal/wire"
)

// capacityFrame is the frame sent to a connection turned away because
// every session slot is occupied by a full, running session.
var capacityFrame = wire.Encode(wire.TagErr, []byte("game limit reached"))

// Serve runs the scheduler's accept loop: while ctx is live, it accepts
// a connection, hands it to Accept to be seated (joining an existing
// session or starting a new one), and calls Reap once per iteration.
// A connection that arrives when every slot is full receives the
// capacity frame and is closed immediately, before any further frame
// exchange, without ever touching the slot-table lock during that I/O.
//
// Serve returns when ctx is cancelled or the listener is closed.
func (m *Manager) Serve(ctx context.Context, ln *netio.Listener) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, netio.ErrClosed) {
				return nil
			}
			m.log.Warn("accept failed", slog.Any("error", err))
			continue
		}

		if acceptErr := m.Accept(ctx, conn); acceptErr != nil {
			rejectForCapacity(conn)
		}

		m.Reap()
	}
}

// rejectForCapacity sends the capacity-limit frame and closes conn. It
// never touches the Manager's lock: by the time Accept has returned
// ErrCapacity, the lock has already been released.
func rejectForCapacity(conn net.Conn) {
	_, _ = conn.Write(capacityFrame)
	_ = conn.Close()
}
