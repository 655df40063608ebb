package game

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lattice-ctf/flagbroker/internal/policy"
	"github.com/lattice-ctf/flagbroker/internal/secrets"
	"github.com/lattice-ctf/flagbroker/internal/wire"
)

// MaxFlagRetries is the number of consecutive provisioning failures a
// seat may accumulate before it is dropped as if it had disconnected.
const MaxFlagRetries = 5

// HandlerTimer bounds how long a handler goroutine may wait in its
// select loop before re-checking session state, so a peer's departure
// is observed within roughly one tick even when no frame is in flight.
const HandlerTimer = 1 * time.Second

var (
	// ErrCapacity indicates a connection arrived with no session slot
	// available and was given the capacity-limit frame instead of a seat.
	ErrCapacity = errors.New("game: no session slot available")
)

// Transport is the byte-stream interface a seat communicates over. The
// wire protocol's confidentiality wrapper is modeled as a seam here: the
// default transport used by Manager.Accept is the identity wrapper
// (the raw net.Conn), the spec's explicitly sanctioned null wrapper for
// testing. A future confidentiality layer implements this interface
// without touching session logic.
type Transport interface {
	io.Reader
	io.Writer
	Close() error
}

// Seat is one side of a Session: a transport handle, the shared-secret
// confidentiality wrapper (opaque behind Transport), and the
// flag-provisioning state for that seat.
type Seat struct {
	id   int
	conn Transport
	w    *bufio.Writer
	r    *bufio.Reader

	state     State
	retries   int
	flagToken string
	dirName   string
}

// newSeat wraps a transport as seat n (1 or 2).
func newSeat(id int, conn Transport) *Seat {
	return &Seat{
		id:    id,
		conn:  conn,
		w:     bufio.NewWriter(conn),
		r:     bufio.NewReader(conn),
		state: StateIdle,
	}
}

// send writes a single-segment frame to the seat. Callers must hold the
// owning Session's lock: the socket write side is serialized through it
// regardless of which handler (the seat's own, or its peer's, relaying a
// gameplay frame) is writing.
func (s *Seat) send(tag wire.Tag, payload []byte) error {
	if _, err := s.w.Write(wire.Encode(tag, payload)); err != nil {
		return fmt.Errorf("seat %d: write: %w", s.id, err)
	}
	return s.w.Flush()
}

// sendFrame writes a pre-built multi-segment frame verbatim.
func (s *Seat) sendFrame(segments []wire.Segment) error {
	if _, err := s.w.Write(wire.EncodeSegments(segments)); err != nil {
		return fmt.Errorf("seat %d: write: %w", s.id, err)
	}
	return s.w.Flush()
}

// Session is a single two-seat game: one provisioning FSM per seat, a
// shared stop signal, and the relay/win logic connecting them.
//
// All seat mutation and socket writes happen under mu; a goroutine never
// holds mu across a blocking read, only across the brief window needed
// to validate, decide, and write.
type Session struct {
	mu    sync.Mutex
	seats [2]*Seat

	stopped    atomic.Bool
	wonAlready atomic.Bool
	stopCh     chan struct{}
	stopOnce   sync.Once

	log     *slog.Logger
	metrics MetricsReporter

	maxFlagRetries int
	handlerTimer   time.Duration
}

// NewSession returns an empty two-seat session ready to accept seat 1,
// using the spec's default MAX_FLAG_RETRIES and HANDLER_TIMER tunables.
func NewSession(log *slog.Logger, metrics MetricsReporter) *Session {
	return newSessionWithLimits(log, metrics, MaxFlagRetries, HandlerTimer)
}

// newSessionWithLimits is NewSession with the MAX_FLAG_RETRIES and
// HANDLER_TIMER tunables overridden, as configured on the owning
// Manager (spec.md §6).
func newSessionWithLimits(log *slog.Logger, metrics MetricsReporter, maxFlagRetries int, handlerTimer time.Duration) *Session {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}
	if maxFlagRetries <= 0 {
		maxFlagRetries = MaxFlagRetries
	}
	if handlerTimer <= 0 {
		handlerTimer = HandlerTimer
	}
	return &Session{
		stopCh:         make(chan struct{}),
		log:            log,
		metrics:        metrics,
		maxFlagRetries: maxFlagRetries,
		handlerTimer:   handlerTimer,
	}
}

// SeatCount reports how many seats are currently occupied. Safe to call
// from any goroutine; used by the manager's reaper and its live-handler
// invariant check.
func (sess *Session) SeatCount() int {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.seatCount()
}

func (sess *Session) seatCount() int {
	n := 0
	for _, s := range sess.seats {
		if s != nil {
			n++
		}
	}
	return n
}

// Stopped reports whether the session has been marked for teardown,
// either by a seat departing or by a win being declared.
func (sess *Session) Stopped() bool { return sess.stopped.Load() }

// attach installs conn as the next free seat (1 if empty, else 2) and
// returns it.
func (sess *Session) attach(conn Transport) (*Seat, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	for i := 0; i < len(sess.seats); i++ {
		if sess.seats[i] == nil {
			seat := newSeat(i+1, conn)
			sess.seats[i] = seat
			return seat, nil
		}
	}
	return nil, fmt.Errorf("game: session has no free seat")
}

// peer returns the other seat in the session, or nil if it is unoccupied.
func (sess *Session) peer(seat *Seat) *Seat {
	for _, s := range sess.seats {
		if s != nil && s != seat {
			return s
		}
	}
	return nil
}

// signalStop closes stopCh exactly once, broadcasting to every handler
// and reader goroutine selecting on it regardless of how many are
// listening — a close, unlike a send, wakes every receiver rather than
// exactly one.
func (sess *Session) signalStop() {
	sess.stopOnce.Do(func() { close(sess.stopCh) })
}

// begin runs the flag-provisioning FSM's initial transition for seat and
// sends the resulting FLG_DIR prompt.
func (sess *Session) begin(seat *Seat) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.apply(seat, EventSeatAttached)
}

// handleFrame processes one decoded frame received from seat.
func (sess *Session) handleFrame(seat *Seat, segments []wire.Segment) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if flg, ok := wire.First(segments, wire.TagFlg); ok {
		return sess.handleFlagReply(seat, string(flg.Payload))
	}

	if seat.state != StateReady {
		// Gameplay frames from a non-ready seat are silently discarded.
		return nil
	}

	other := sess.peer(seat)
	if other == nil || other.state != StateReady {
		return seat.send(wire.TagErr, []byte("wait for second client"))
	}

	cmd, isCmd := wire.First(segments, wire.TagCmd)
	if isCmd && other.flagToken != "" && bytes.Equal(cmd.Payload, []byte(other.flagToken)) {
		if err := seat.send(wire.TagOut, []byte("you won")); err != nil {
			return err
		}
		if err := other.send(wire.TagOut, []byte("you lost")); err != nil {
			return err
		}
		sess.finishGame()
		return nil
	}

	if isCmd {
		if err := policy.Validate(string(cmd.Payload)); err != nil {
			sess.metrics.PolicyRejected()
			return seat.send(wire.TagErr, []byte("command not allowed"))
		}
	}

	if isCmd {
		sess.metrics.CommandRelayed()
	}
	return other.sendFrame(segments)
}

// handleFlagReply advances seat's provisioning FSM in response to a FLG
// segment from the client. Callers must hold mu.
func (sess *Session) handleFlagReply(seat *Seat, payload string) error {
	switch seat.state {
	case StateAwaitDir:
		if err := policy.ValidateDirectory(payload); err != nil {
			sess.metrics.ProvisioningFailed()
			return sess.apply(seat, EventDirRejected)
		}
		seat.dirName = payload
		return sess.apply(seat, EventDirAccepted)

	case StateAwaitCreateAck:
		if payload == "okay" {
			return sess.apply(seat, EventCreateAcked)
		}
		return sess.apply(seat, EventCreateErrored)

	default:
		// FLG replies outside provisioning are ignored.
		return nil
	}
}

// apply runs the pure FSM over seat's state and executes the returned
// actions against the wire. Callers must hold mu.
func (sess *Session) apply(seat *Seat, event Event) error {
	result := ApplyEvent(seat.state, event)
	seat.state = result.NewState

	for _, action := range result.Actions {
		switch action {
		case ActionSendDirPrompt:
			if err := seat.send(wire.TagFlg, []byte(policy.FlagDirSentinel)); err != nil {
				return err
			}

		case ActionGenerateAndSendCreate:
			token, err := secrets.GenerateToken(secrets.TokenLen)
			if err != nil {
				sess.metrics.ProvisioningFailed()
				seat.state = StateAwaitDir
				return sess.apply(seat, EventDirRejected)
			}
			seat.retries = 0
			seat.flagToken = token
			cmd := fmt.Sprintf("echo '%s' > %s/flag.txt", token, seat.dirName)
			if err := seat.send(wire.TagFlg, []byte(cmd)); err != nil {
				return err
			}

		case ActionSendDirError:
			seat.retries++
			if seat.retries >= sess.maxFlagRetries {
				sess.metrics.ProvisioningFailed()
				sess.departLocked(seat)
				return nil
			}
			if err := seat.send(wire.TagFlg, []byte("error")); err != nil {
				return err
			}

		case ActionMarkReady:
			sess.metrics.SeatReady()

		case ActionDropSeat:
			sess.departLocked(seat)
			return nil
		}
	}

	return nil
}

// finishGame declares the session over following a win: both seats are
// removed, both connections closed, and any handler still waiting on
// stopCh is woken. Callers must hold mu.
func (sess *Session) finishGame() {
	for i, s := range sess.seats {
		if s != nil {
			_ = s.conn.Close()
			sess.seats[i] = nil
		}
	}
	sess.stopped.Store(true)
	sess.wonAlready.Store(true)
	sess.signalStop()
}

// depart handles a seat's departure due to a transport error, EOF, or
// global shutdown: acquires mu and delegates to departLocked.
func (sess *Session) depart(seat *Seat) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.departLocked(seat)
}

// departLocked removes seat from the session, marks it stopped, closes
// the departing seat's own socket, and wakes the peer. Per the ordering
// guarantee, nothing is written to seat's socket after this point.
// Callers must hold mu.
func (sess *Session) departLocked(seat *Seat) {
	for i, s := range sess.seats {
		if s == seat {
			sess.seats[i] = nil
		}
	}
	sess.stopped.Store(true)
	_ = seat.conn.Close()
	sess.signalStop()
}

// notifyPeerDeparture is called by a surviving seat's own handler once it
// observes the stop signal due to its peer departing (not a win, which
// already messaged both seats directly). It sends the one permitted
// post-stop notice and closes its own connection, mirroring the
// departing seat's own teardown.
func (sess *Session) notifyPeerDeparture(seat *Seat) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.wonAlready.Load() {
		return
	}
	if seat.state != StateIdle {
		_ = seat.send(wire.TagErr, []byte("other client disconnected"))
	}
	for i, s := range sess.seats {
		if s == seat {
			sess.seats[i] = nil
		}
	}
	_ = seat.conn.Close()
}

// RunHandler drives one seat's read/relay loop until the seat departs or
// the session stops. It is the per-seat goroutine the scheduler spawns
// from Manager.Accept, modeled on a three-way select (recv channel /
// stop channel / timer) that multiplexes a session's event sources
// without blocking on any one of them.
func RunHandler(ctx context.Context, sess *Session, seat *Seat) {
	defer func() {
		if r := recover(); r != nil {
			sess.log.Error("handler panic recovered", slog.Any("panic", r), slog.Int("seat", seat.id))
			sess.depart(seat)
		}
	}()

	if err := sess.begin(seat); err != nil {
		sess.depart(seat)
		return
	}

	frameCh := make(chan []wire.Segment)
	errCh := make(chan error, 1)

	go func() {
		for {
			segs, err := wire.ReadFrame(seat.r)
			if err != nil {
				if errors.Is(err, wire.ErrMalformed) {
					continue
				}
				errCh <- err
				return
			}
			select {
			case frameCh <- segs:
			case <-sess.stopCh:
				return
			}
		}
	}()

	ticker := time.NewTicker(sess.handlerTimer)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sess.depart(seat)
			return

		case <-sess.stopCh:
			if !sess.wonAlready.Load() {
				sess.notifyPeerDeparture(seat)
			}
			return

		case <-errCh:
			sess.depart(seat)
			return

		case segs := <-frameCh:
			if err := sess.handleFrame(seat, segs); err != nil {
				sess.depart(seat)
				return
			}
			if sess.Stopped() {
				return
			}

		case <-ticker.C:
			// Bounded wakeup: no periodic action beyond giving the
			// select loop a chance to notice session state changed.
		}
	}
}
