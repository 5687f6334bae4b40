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
	"log"
	"sync"
	"time"
)

// BreakerState is the circuit breaker position for one backend.
type BreakerState string

const (
	// BreakerClosed allows calls; failures are being counted.
	BreakerClosed BreakerState = "closed"

	// BreakerOpen rejects calls until the recovery timeout elapses.
	BreakerOpen BreakerState = "open"

	// BreakerHalfOpen allows a probe call; one success closes the
	// breaker, one failure reopens it.
	BreakerHalfOpen BreakerState = "half_open"
)

// CallOutcome carries the per-call samples fed into the EMA metrics.
type CallOutcome struct {
	Latency time.Duration
	Cost    float64
}

// HealthSnapshot is a point-in-time copy of one backend's health state.
// Snapshots read by the routing engine may be slightly stale; that is an
// accepted soft-state trade-off.
type HealthSnapshot struct {
	Backend             string       `json:"backend"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastFailure         time.Time    `json:"last_failure,omitempty"`
	Availability        float64      `json:"availability"`
	AvgLatencyMs        float64      `json:"avg_latency_ms"`
	AvgCost             float64      `json:"avg_cost"`
	TotalCalls          int64        `json:"total_calls"`
	TotalFailures       int64        `json:"total_failures"`
}

// backendHealth is the mutable per-backend entry. Each entry has its own
// mutex so success/failure reports for different backends never contend,
// and reports for the same backend are serialized (single-writer
// discipline per entry).
type backendHealth struct {
	mu sync.Mutex

	state               BreakerState
	consecutiveFailures int
	lastFailure         time.Time

	availability float64 // EMA of success(1)/failure(0)
	avgLatencyMs float64 // EMA
	avgCost      float64 // EMA

	totalCalls    int64
	totalFailures int64
}

// HealthRegistry tracks circuit-breaker state and rolling metrics per
// backend. State is in-memory only: on restart every breaker resets to
// CLOSED, the conservative default.
type HealthRegistry struct {
	mu      sync.RWMutex
	entries map[string]*backendHealth

	failureThreshold int
	recoveryTimeout  time.Duration
	alpha            float64

	// now is injectable for deterministic recovery-timeout tests.
	now func() time.Time
}

// NewHealthRegistry creates a registry for the given backends. Breakers
// start CLOSED with availability 1.0 so new backends are routable.
func NewHealthRegistry(cfg Config) *HealthRegistry {
	r := &HealthRegistry{
		entries:          make(map[string]*backendHealth),
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeout:  cfg.RecoveryTimeout(),
		alpha:            cfg.EMAAlpha,
		now:              time.Now,
	}
	for _, b := range cfg.Backends {
		r.entries[b.ID] = &backendHealth{
			state:        BreakerClosed,
			availability: 1.0,
			avgLatencyMs: float64(b.ExpectedLatencyMs),
			avgCost:      b.CostPerToken,
		}
	}
	return r
}

// entry returns the health entry for a backend, creating it on first use.
func (r *HealthRegistry) entry(backend string) *backendHealth {
	r.mu.RLock()
	e, ok := r.entries[backend]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[backend]; ok {
		return e
	}
	e = &backendHealth{state: BreakerClosed, availability: 1.0}
	r.entries[backend] = e
	return e
}

// RecordSuccess resets the failure count, closes a HALF_OPEN breaker, and
// folds the call samples into the EMA metrics.
func (r *HealthRegistry) RecordSuccess(backend string, outcome CallOutcome) {
	e := r.entry(backend)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutiveFailures = 0
	if e.state == BreakerHalfOpen {
		e.state = BreakerClosed
		log.Printf("[HealthRegistry] Backend %s: probe succeeded, breaker half_open -> closed", backend)
	}

	e.totalCalls++
	e.availability = r.ema(e.availability, 1.0)
	if outcome.Latency > 0 {
		e.avgLatencyMs = r.ema(e.avgLatencyMs, float64(outcome.Latency.Milliseconds()))
	}
	if outcome.Cost > 0 {
		e.avgCost = r.ema(e.avgCost, outcome.Cost)
	}
}

// RecordFailure increments the consecutive-failure count, timestamps it,
// and trips the breaker once the threshold is reached. A failed HALF_OPEN
// probe reopens the breaker immediately.
func (r *HealthRegistry) RecordFailure(backend string) {
	e := r.entry(backend)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutiveFailures++
	e.lastFailure = r.now()
	e.totalCalls++
	e.totalFailures++
	e.availability = r.ema(e.availability, 0.0)

	switch e.state {
	case BreakerHalfOpen:
		e.state = BreakerOpen
		log.Printf("[HealthRegistry] Backend %s: probe failed, breaker half_open -> open", backend)
	case BreakerClosed:
		if e.consecutiveFailures >= r.failureThreshold {
			e.state = BreakerOpen
			log.Printf("[HealthRegistry] Backend %s: %d consecutive failures, breaker closed -> open",
				backend, e.consecutiveFailures)
		}
	}
}

// CanExecute reports whether the backend may be invoked. In OPEN state it
// returns false until the recovery timeout has elapsed since the last
// failure, at which point the breaker moves to HALF_OPEN and the call is
// allowed as a probe. No routing rule may invoke a backend for which this
// returns false.
func (r *HealthRegistry) CanExecute(backend string) bool {
	e := r.entry(backend)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if r.now().Sub(e.lastFailure) >= r.recoveryTimeout {
			e.state = BreakerHalfOpen
			log.Printf("[HealthRegistry] Backend %s: recovery timeout elapsed, breaker open -> half_open", backend)
			return true
		}
		return false
	}
	return false
}

// Snapshot returns a copy of one backend's health state.
func (r *HealthRegistry) Snapshot(backend string) HealthSnapshot {
	e := r.entry(backend)
	e.mu.Lock()
	defer e.mu.Unlock()

	return HealthSnapshot{
		Backend:             backend,
		State:               e.state,
		ConsecutiveFailures: e.consecutiveFailures,
		LastFailure:         e.lastFailure,
		Availability:        e.availability,
		AvgLatencyMs:        e.avgLatencyMs,
		AvgCost:             e.avgCost,
		TotalCalls:          e.totalCalls,
		TotalFailures:       e.totalFailures,
	}
}

// Snapshots returns health snapshots for every known backend.
func (r *HealthRegistry) Snapshots() map[string]HealthSnapshot {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()

	out := make(map[string]HealthSnapshot, len(names))
	for _, name := range names {
		out[name] = r.Snapshot(name)
	}
	return out
}

func (r *HealthRegistry) ema(old, sample float64) float64 {
	return r.alpha*sample + (1-r.alpha)*old
}
