// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package metrics declares geocluedbusd's Prometheus instruments as
// package-level promauto vars, the layout used throughout the telemetry
// repos in this ecosystem (see e.g. global-monitor/internal/metrics).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourcesActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geoclue_sources_active",
		Help: "Whether a location source kind is currently started (1) or stopped (0)",
	}, []string{"kind"})

	SourceStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoclue_source_starts_total",
		Help: "Total number of times a location source was started",
	}, []string{"kind", "result"})

	SourceUnavailableSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "geoclue_source_unavailable_seconds",
		Help: "Backoff window in seconds set when a source's start fails, -1 if permanently disabled; not reset on a later successful start",
	}, []string{"kind"})

	FixesPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoclue_fixes_published_total",
		Help: "Total number of fixes accepted by the location manager's arbitration pipeline",
	}, []string{"kind"})

	FixesDiscardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoclue_fixes_discarded_total",
		Help: "Total number of fixes rejected by the arbitration pipeline",
	}, []string{"kind", "reason"})

	ClientsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geoclue_clients_active",
		Help: "Current number of registered clients",
	})

	ClientAuthorizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoclue_client_authorizations_total",
		Help: "Total number of client Start() authorization decisions",
	}, []string{"decision"})

	AgentRegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoclue_agent_registrations_total",
		Help: "Total number of agent registrations, including evictions",
	}, []string{"result"})

	LocationUpdatesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoclue_location_updates_emitted_total",
		Help: "Total number of LocationUpdated signals emitted to clients",
	}, []string{"client"})
)

// DiscardReason names used with FixesDiscardedTotal, kept centralized so
// callers never hand-type the label value.
const (
	ReasonStale           = "stale"
	ReasonWorseAccuracy   = "worse_accuracy"
	ReasonOlderTimestamp  = "older_timestamp"
	ReasonLowerPriority   = "lower_priority"
)
