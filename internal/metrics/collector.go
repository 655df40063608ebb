// Package metrics exposes the flag broker's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "flagbroker"
	subsystem = "game"
)

// -------------------------------------------------------------------------
// Collector — Prometheus game metrics
// -------------------------------------------------------------------------

// Collector holds every metric the flag broker records and implements
// game.MetricsReporter so it can be wired directly into game.Manager and
// every game.Session it creates, without those packages importing
// prometheus directly.
//
//   - SessionsActive tracks currently live sessions.
//   - SessionsCreated, SessionsReaped, CapacityRejected count scheduler
//     lifecycle events.
//   - CommandsRelayed, PolicyRejected count gameplay traffic.
//   - ProvisioningFailures, SeatsReady count flag-provisioning outcomes.
type Collector struct {
	SessionsActive *prometheus.GaugeVec

	SessionsCreated    prometheus.Counter
	SessionsReaped     prometheus.Counter
	CapacityRejections prometheus.Counter

	CommandsRelayed  prometheus.Counter
	PolicyRejections prometheus.Counter

	ProvisioningFailures prometheus.Counter
	SeatsReady           prometheus.Counter
}

// NewCollector creates a Collector with all flag broker metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.SessionsActive,
		c.SessionsCreated,
		c.SessionsReaped,
		c.CapacityRejections,
		c.CommandsRelayed,
		c.PolicyRejections,
		c.ProvisioningFailures,
		c.SeatsReady,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_active",
			Help:      "Number of currently active two-seat game sessions.",
		}, []string{"state"}),

		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_created_total",
			Help:      "Total sessions created by the scheduler.",
		}),

		SessionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_reaped_total",
			Help:      "Total sessions reclaimed by the reaper.",
		}),

		CapacityRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "capacity_rejected_total",
			Help:      "Total connections refused because every session slot was full.",
		}),

		CommandsRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commands_relayed_total",
			Help:      "Total CMD frames forwarded to a peer seat.",
		}),

		PolicyRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "policy_rejected_total",
			Help:      "Total CMD frames rejected by the command validator.",
		}),

		ProvisioningFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "provisioning_failures_total",
			Help:      "Total flag-provisioning failures (rejected directory, token error, or retries exhausted).",
		}),

		SeatsReady: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "seats_ready_total",
			Help:      "Total seats that completed flag provisioning and reached READY.",
		}),
	}
}

// -------------------------------------------------------------------------
// game.MetricsReporter implementation
// -------------------------------------------------------------------------

// CommandRelayed implements game.MetricsReporter.
func (c *Collector) CommandRelayed() { c.CommandsRelayed.Inc() }

// PolicyRejected implements game.MetricsReporter.
func (c *Collector) PolicyRejected() { c.PolicyRejections.Inc() }

// ProvisioningFailed implements game.MetricsReporter.
func (c *Collector) ProvisioningFailed() { c.ProvisioningFailures.Inc() }

// SeatReady implements game.MetricsReporter.
func (c *Collector) SeatReady() { c.SeatsReady.Inc() }

// SessionCreated implements game.MetricsReporter.
func (c *Collector) SessionCreated() {
	c.SessionsCreated.Inc()
	c.SessionsActive.WithLabelValues("open").Inc()
}

// CapacityRejected implements game.MetricsReporter.
func (c *Collector) CapacityRejected() { c.CapacityRejections.Inc() }

// SessionReaped implements game.MetricsReporter.
func (c *Collector) SessionReaped() {
	c.SessionsReaped.Inc()
	c.SessionsActive.WithLabelValues("open").Dec()
}
