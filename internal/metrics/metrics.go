// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes the broker's Prometheus instrumentation: counts
// for each audit event kind plus gauges for live sessions and a histogram
// of human approval latency, so an operator can watch approval latency
// and denial rate without reading the audit log. Nothing here ever takes
// a label derived from secret or free-form user text.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "credbroker"

// Registry is a private registry rather than the global default, so tests
// and a second in-process broker instance never collide on metric names.
var Registry = prometheus.NewRegistry()

var (
	// RequestsTotal counts credential requests by terminal outcome:
	// approved, denied, not_found, error.
	RequestsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "requests",
		Name:      "total",
		Help:      "Total credential requests by outcome.",
	}, []string{"outcome"})

	// PairingsTotal counts pairing lifecycle transitions.
	PairingsTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pairings",
		Name:      "total",
		Help:      "Total pairing lifecycle events by kind.",
	}, []string{"kind"})

	// ActiveSessions reports the live session count, updated at each
	// /health poll and each periodic sweep rather than on every mutation.
	ActiveSessions = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Number of live, unexpired sessions.",
	})

	// ApprovalWaitSeconds observes how long a credential request spent
	// blocked on the human approver, from prompt to decision.
	ApprovalWaitSeconds = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "requests",
		Name:      "approval_wait_seconds",
		Help:      "Time spent waiting on the human approver per request.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// VaultFetchFailuresTotal counts credential requests that ended in an
	// error other than not_found, labelled by the dispatcher's reason code
	// (driver_error, timeout, revoked, prompt_failure). It is incremented
	// once per failed request; individual wrong-master retries are not
	// counted, only their exhaustion as driver_error.
	VaultFetchFailuresTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vault",
		Name:      "fetch_failures_total",
		Help:      "Vault fetch failures by reason code.",
	}, []string{"reason"})
)

// Outcome labels for RequestsTotal.
const (
	OutcomeApproved = "approved"
	OutcomeDenied   = "denied"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Pairing lifecycle labels for PairingsTotal.
const (
	PairingCreated   = "created"
	PairingConfirmed = "confirmed"
	PairingExpired   = "expired"
)

// Handler serves the registry's metrics in Prometheus exposition format,
// mounted at GET /metrics alongside the broker's own routes.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
