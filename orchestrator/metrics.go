// Copyright 2025 SLM Legal ES Research
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the router's Prometheus collectors. A single instance
// is shared across the controller, the registry and the HTTP layer.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RoundsPerRequest  prometheus.Histogram
	ConsensusScore    prometheus.Histogram
	BackendFailures   *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	RoutingDecisions  *prometheus.CounterVec
	RequestDurationMs prometheus.Histogram
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics registers the collectors with the given registry. Passing
// nil uses the process-wide default registerer exactly once.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		metricsOnce.Do(func() {
			metricsInstance = newMetrics(prometheus.DefaultRegisterer)
		})
		return metricsInstance
	}
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "router",
			Name:      "requests_total",
			Help:      "Inference requests by terminal status.",
		}, []string{"status"}),
		RoundsPerRequest: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "router",
			Name:      "deliberation_rounds",
			Help:      "Deliberation rounds executed per request.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		ConsensusScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "router",
			Name:      "consensus_confidence",
			Help:      "Final consensus confidence distribution.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		BackendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "router",
			Name:      "backend_failures_total",
			Help:      "Recorded backend call failures.",
		}, []string{"backend"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "router",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per backend (0 closed, 1 half-open, 2 open).",
		}, []string{"backend"}),
		RoutingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "router",
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by selected backend.",
		}, []string{"backend"}),
		RequestDurationMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "router",
			Name:      "request_duration_ms",
			Help:      "End to end request latency in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(50, 2, 12),
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RoundsPerRequest,
		m.ConsensusScore,
		m.BackendFailures,
		m.BreakerState,
		m.RoutingDecisions,
		m.RequestDurationMs,
	)
	return m
}

// ObserveBreakers refreshes the per-backend breaker state gauge from a
// registry snapshot.
func (m *Metrics) ObserveBreakers(snapshots map[string]HealthSnapshot) {
	for backend, snap := range snapshots {
		var v float64
		switch snap.State {
		case BreakerHalfOpen:
			v = 1
		case BreakerOpen:
			v = 2
		}
		m.BreakerState.WithLabelValues(backend).Set(v)
	}
}
