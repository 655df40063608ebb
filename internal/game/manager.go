package game

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// GMax is the default number of concurrent session slots the manager
// maintains, per the spec's G_MAX tunable.
const GMax = 10

// slot holds one session-table entry. A nil session pointer means the
// slot is free.
type slot struct {
	session *Session
}

// Stats is a snapshot of the manager's aggregate counters, exposed for
// the admin and metrics surfaces. It has no bearing on gameplay
// correctness; it is the natural counterpart of a comparable daemon's
// aggregate session statistics.
type Stats struct {
	SlotsTotal       int    `json:"slots_total"`
	SlotsInUse       int    `json:"slots_in_use"`
	LiveHandlers     int64  `json:"live_handlers"`
	SessionsCreated  uint64 `json:"sessions_created"`
	CapacityRejected uint64 `json:"capacity_rejected"`
	SessionsReaped   uint64 `json:"sessions_reaped"`
}

// Manager is the scheduler: a fixed slot table of sessions behind one
// lock, a lock-free live-handler counter for external reads, and the
// accept/seat/reap logic described by the spec's Scheduler component.
//
// The global lock (mu) is only ever held around slot-table inspection
// and mutation — never across I/O. Per-session state is protected by
// each Session's own lock.
type Manager struct {
	mu    sync.Mutex
	slots []slot

	liveHandlers atomic.Int64
	shuttingDown atomic.Bool

	sessionsCreated  atomic.Uint64
	capacityRejected atomic.Uint64
	sessionsReaped   atomic.Uint64

	log     *slog.Logger
	metrics MetricsReporter

	maxFlagRetries int
	handlerTimer   time.Duration
}

// Option configures optional Manager parameters.
type Option func(*Manager)

// WithMetrics sets the MetricsReporter for the manager and every
// session it creates. A nil reporter leaves the no-op default in place.
func WithMetrics(mr MetricsReporter) Option {
	return func(m *Manager) {
		if mr != nil {
			m.metrics = mr
		}
	}
}

// WithMaxFlagRetries overrides MAX_FLAG_RETRIES (spec.md §6) for every
// session the manager creates. Values <= 0 leave the default in place.
func WithMaxFlagRetries(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxFlagRetries = n
		}
	}
}

// WithHandlerTimer overrides HANDLER_TIMER (spec.md §6) for every
// session the manager creates. Values <= 0 leave the default in place.
func WithHandlerTimer(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.handlerTimer = d
		}
	}
}

// NewManager returns a Manager with slotCount session slots.
func NewManager(log *slog.Logger, slotCount int, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if slotCount <= 0 {
		slotCount = GMax
	}
	m := &Manager{
		slots:          make([]slot, slotCount),
		log:            log,
		metrics:        noopMetrics{},
		maxFlagRetries: MaxFlagRetries,
		handlerTimer:   HandlerTimer,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Stats returns a snapshot of the manager's aggregate counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	inUse := 0
	for i := range m.slots {
		if m.slots[i].session != nil {
			inUse++
		}
	}
	total := len(m.slots)
	m.mu.Unlock()

	return Stats{
		SlotsTotal:       total,
		SlotsInUse:       inUse,
		LiveHandlers:     m.liveHandlers.Load(),
		SessionsCreated:  m.sessionsCreated.Load(),
		CapacityRejected: m.capacityRejected.Load(),
		SessionsReaped:   m.sessionsReaped.Load(),
	}
}

// Shutdown marks the manager as shutting down; the accept loop and the
// per-handler select loops observe this via ctx cancellation rather
// than this flag directly, but it lets Accept refuse new connections
// immediately rather than racing the listener close.
func (m *Manager) Shutdown() { m.shuttingDown.Store(true) }

// Accept implements the scheduler's seat() operation: it either joins
// conn to an existing session with exactly one seat, creates a new
// session for conn, or — if every slot is occupied by a two-seat
// session — reports ErrCapacity so the caller can send the capacity
// frame and close conn without ever holding the slot-table lock across
// that I/O.
//
// On success, Accept has already spawned the seat's handler goroutine
// under ctx; the caller does not need to do anything further with conn.
func (m *Manager) Accept(ctx context.Context, conn Transport) error {
	if m.shuttingDown.Load() {
		return ErrCapacity
	}

	sess, seat, isNew, err := m.claimSeat(conn)
	if err != nil {
		m.capacityRejected.Add(1)
		m.metrics.CapacityRejected()
		return err
	}

	if isNew {
		m.sessionsCreated.Add(1)
		m.metrics.SessionCreated()
	}

	m.liveHandlers.Add(1)
	go func() {
		defer m.liveHandlers.Add(-1)
		RunHandler(ctx, sess, seat)
	}()

	return nil
}

// claimSeat performs the slot-table inspection and mutation under mu
// only — attach() itself takes the Session's own lock, never this one,
// so no I/O ever happens while mu is held.
func (m *Manager) claimSeat(conn Transport) (*Session, *Seat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.slots {
		sess := m.slots[i].session
		if sess == nil {
			continue
		}
		if sess.Stopped() {
			continue
		}
		if sess.SeatCount() == 1 {
			seat, err := sess.attach(conn)
			if err != nil {
				continue
			}
			return sess, seat, false, nil
		}
	}

	for i := range m.slots {
		if m.slots[i].session == nil {
			sess := newSessionWithLimits(m.log, m.metrics, m.maxFlagRetries, m.handlerTimer)
			seat, err := sess.attach(conn)
			if err != nil {
				return nil, nil, false, err
			}
			m.slots[i].session = sess
			return sess, seat, true, nil
		}
	}

	return nil, nil, false, ErrCapacity
}

// Reap walks the slot table and releases any slot whose session has
// stopped and emptied of seats, letting the Session — and everything it
// references — be garbage collected. It is meant to run opportunistically
// after each accept-loop iteration, per the spec's reaper.
func (m *Manager) Reap() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.slots {
		sess := m.slots[i].session
		if sess == nil {
			continue
		}
		if sess.Stopped() && sess.SeatCount() == 0 {
			m.slots[i].session = nil
			m.sessionsReaped.Add(1)
			m.metrics.SessionReaped()
		}
	}
}

// LiveHandlers returns the current count of running per-seat handler
// goroutines, the left side of the invariant live_handlers == Σ
// seat_count(session).
func (m *Manager) LiveHandlers() int64 { return m.liveHandlers.Load() }
