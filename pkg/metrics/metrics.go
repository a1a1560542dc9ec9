// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for udptun.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/absmach/udptun/pkg/bridge"
	"github.com/absmach/udptun/pkg/errors"
)

// Metrics holds all Prometheus metrics for the tunnel. A nil *Metrics
// is valid and turns every recording method into a no-op, so servers
// can run without instrumentation.
type Metrics struct {
	ActiveSessions  *prometheus.GaugeVec
	SessionsTotal   *prometheus.CounterVec
	SessionErrors   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec

	DatagramsRelayed *prometheus.CounterVec
	BytesRelayed     *prometheus.CounterVec
}

// New creates a Metrics instance registered with the default registerer.
func New(namespace string) *Metrics {
	return NewWith(namespace, prometheus.DefaultRegisterer)
}

// NewWith creates a Metrics instance registered with reg. Tests use
// this with a private registry.
func NewWith(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "udptun"
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of currently live tunnel sessions",
			},
			[]string{"tunnel"},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of tunnel sessions",
			},
			[]string{"tunnel", "status"},
		),
		SessionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_errors_total",
				Help:      "Total number of session failures by error kind",
			},
			[]string{"tunnel", "kind"},
		),
		SessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Session duration in seconds",
				Buckets:   []float64{.1, 1, 10, 60, 300, 600, 1800, 3600},
			},
			[]string{"tunnel"},
		),
		DatagramsRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datagrams_relayed_total",
				Help:      "Total number of datagrams relayed by direction",
			},
			[]string{"tunnel", "direction"},
		),
		BytesRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_relayed_total",
				Help:      "Total payload bytes relayed by direction",
			},
			[]string{"tunnel", "direction"},
		),
	}
}

// SessionStarted records a new live session for the named tunnel
// direction ("tcp2udp" or "udp2tcp").
func (m *Metrics) SessionStarted(tunnel string) {
	if m == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(tunnel).Inc()
}

// SessionEnded records the outcome of a finished session.
func (m *Metrics) SessionEnded(tunnel string, duration time.Duration, traffic bridge.Traffic, err error) {
	if m == nil {
		return
	}

	m.ActiveSessions.WithLabelValues(tunnel).Dec()
	m.SessionDuration.WithLabelValues(tunnel).Observe(duration.Seconds())

	status := "ok"
	if err != nil {
		status = "error"
		m.SessionErrors.WithLabelValues(tunnel, errors.KindOf(err).String()).Inc()
	}
	m.SessionsTotal.WithLabelValues(tunnel, status).Inc()

	m.DatagramsRelayed.WithLabelValues(tunnel, bridge.StreamToDatagram.String()).Add(float64(traffic.ToDatagramFrames))
	m.DatagramsRelayed.WithLabelValues(tunnel, bridge.DatagramToStream.String()).Add(float64(traffic.ToStreamFrames))
	m.BytesRelayed.WithLabelValues(tunnel, bridge.StreamToDatagram.String()).Add(float64(traffic.ToDatagramBytes))
	m.BytesRelayed.WithLabelValues(tunnel, bridge.DatagramToStream.String()).Add(float64(traffic.ToStreamBytes))
}

// SessionRejected records a session that never started (socket setup
// failure or session limit).
func (m *Metrics) SessionRejected(tunnel string, err error) {
	if m == nil {
		return
	}
	m.SessionErrors.WithLabelValues(tunnel, errors.KindOf(err).String()).Inc()
	m.SessionsTotal.WithLabelValues(tunnel, "rejected").Inc()
}
