package game

// MetricsReporter receives counter events from sessions as they happen.
// Keeping this as a small interface (rather than importing
// internal/metrics directly) lets the game package stay decoupled from
// the concrete prometheus collector, mirroring the teacher's
// MetricsReporter/noopMetrics seam used to keep its own session and
// manager types free of a direct metrics-library dependency.
type MetricsReporter interface {
	// CommandRelayed is invoked once per CMD frame forwarded to a peer.
	CommandRelayed()

	// PolicyRejected is invoked once per CMD frame rejected by policy.
	PolicyRejected()

	// ProvisioningFailed is invoked once per flag-provisioning failure
	// (directory rejected, token generation error, or retries exhausted).
	ProvisioningFailed()

	// SeatReady is invoked once a seat's provisioning FSM reaches READY.
	SeatReady()

	// SessionCreated is invoked once per new Session the manager creates.
	SessionCreated()

	// CapacityRejected is invoked once per connection turned away at
	// the session-slot capacity limit.
	CapacityRejected()

	// SessionReaped is invoked once per session slot the reaper clears.
	SessionReaped()
}

// noopMetrics discards every event. It is the default MetricsReporter
// for a Session or Manager constructed without one, so callers never
// need a nil check before recording an event.
type noopMetrics struct{}

func (noopMetrics) CommandRelayed()     {}
func (noopMetrics) PolicyRejected()     {}
func (noopMetrics) ProvisioningFailed() {}
func (noopMetrics) SeatReady()          {}
func (noopMetrics) SessionCreated()     {}
func (noopMetrics) CapacityRejected()   {}
func (noopMetrics) SessionReaped()      {}
