// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the serial bridge.
package metrics

import (
	"time"

	"github.com/absmach/wsserial/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	// Session metrics
	ActiveSessions  *prometheus.GaugeVec
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec
	Rejections      *prometheus.CounterVec

	// Traffic metrics
	BytesForwarded    *prometheus.CounterVec
	MessagesForwarded *prometheus.CounterVec

	// Device metrics
	SerialErrors *prometheus.CounterVec

	// Rate limiter metrics
	RateLimited prometheus.Counter
}

// New registers all collectors on reg. A nil reg uses the default
// Prometheus registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "wsserial"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of sessions currently bridging a device",
			},
			[]string{"endpoint"},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of finished sessions by how they ended",
			},
			[]string{"endpoint", "outcome"},
		),
		SessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Session duration in seconds",
				Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600},
			},
			[]string{"endpoint"},
		),
		Rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejections_total",
				Help:      "Total number of connections refused before bridging",
			},
			[]string{"endpoint", "reason"},
		),
		BytesForwarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_forwarded_total",
				Help:      "Total bytes forwarded",
			},
			[]string{"endpoint", "direction"},
		),
		MessagesForwarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_forwarded_total",
				Help:      "Total messages forwarded; one per serial write upstream or serial read downstream",
			},
			[]string{"endpoint", "direction"},
		),
		SerialErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "serial_errors_total",
				Help:      "Total number of serial open and I/O failures",
			},
			[]string{"endpoint", "kind"},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Total number of upgrade attempts refused by the rate limiter",
			},
		),
	}
}

// Forwarded records one forwarded message of n bytes.
func (m *Metrics) Forwarded(endpoint, direction string, n int) {
	m.BytesForwarded.WithLabelValues(endpoint, direction).Add(float64(n))
	m.MessagesForwarded.WithLabelValues(endpoint, direction).Inc()
}

// ObserveSession records a finished session.
func (m *Metrics) ObserveSession(endpoint string, started time.Time, cause error) {
	m.SessionDuration.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
	m.SessionsTotal.WithLabelValues(endpoint, Reason(cause)).Inc()
	if errors.Is(cause, errors.ErrSerialIO) {
		m.SerialErrors.WithLabelValues(endpoint, "io").Inc()
	}
}

// ObserveRejection records a refused connection.
func (m *Metrics) ObserveRejection(endpoint string, reason error) {
	m.Rejections.WithLabelValues(endpoint, Reason(reason)).Inc()
	if errors.Is(reason, errors.ErrSerialOpen) {
		m.SerialErrors.WithLabelValues(endpoint, "open").Inc()
	}
}

// Reason maps an error to a bounded label value.
func Reason(err error) string {
	switch {
	case err == nil, errors.Is(err, errors.ErrClientDisconnect):
		return "client_disconnect"
	case errors.Is(err, errors.ErrShuttingDown):
		return "shutdown"
	case errors.Is(err, errors.ErrUnknownEndpoint):
		return "unknown_endpoint"
	case errors.Is(err, errors.ErrPortBusy):
		return "port_busy"
	case errors.Is(err, errors.ErrSerialOpen):
		return "serial_open"
	case errors.Is(err, errors.ErrSerialIO):
		return "serial_io"
	default:
		return "internal"
	}
}
