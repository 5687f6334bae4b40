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
	"fmt"
	"sort"
)

// Factor weights for the routing score. Confidentiality is a hard gate,
// not a weighted factor: a violating candidate scores zero regardless of
// everything else.
const (
	factorWeightAvailability = 0.30
	factorWeightLatency      = 0.25
	factorWeightCost         = 0.15
	factorWeightHeadroom     = 0.15
	factorWeightPreference   = 0.15

	// Emergency requests shift weight from cost to latency fit.
	emergencyLatencyWeight = 0.40
	emergencyCostWeight    = 0.0
)

// RoutingEngine scores candidate backends for a request using registry
// health snapshots and the request's constraints, and selects the
// top-scoring eligible candidate.
type RoutingEngine struct {
	backends []BackendDescriptor
	registry *HealthRegistry
}

// NewRoutingEngine creates a routing engine over the configured backends.
func NewRoutingEngine(backends []BackendDescriptor, registry *HealthRegistry) *RoutingEngine {
	return &RoutingEngine{backends: backends, registry: registry}
}

// Decide produces a RoutingDecision for the request. When no candidate is
// eligible it returns a NoBackendAvailable decision together with a typed
// error; constraints are never silently relaxed. A request whose
// confidentiality level no configured backend can serve is a fatal
// ConfidentialityViolationError.
func (e *RoutingEngine) Decide(req *InferenceRequest, agents []AgentProfile) (*RoutingDecision, error) {
	decision := &RoutingDecision{
		Scores:    make([]CandidateScore, 0, len(e.backends)),
		Reasoning: make([]string, 0, len(e.backends)+2),
	}

	decision.Reasoning = append(decision.Reasoning,
		fmt.Sprintf("request confidentiality=%s priority=%s max_latency_ms=%d cost_budget=%.4f",
			req.Confidentiality, req.Priority, req.MaxLatencyMs, req.CostBudget))

	anyApproved := false
	type scored struct {
		backend BackendDescriptor
		score   CandidateScore
		health  HealthSnapshot
	}
	eligible := make([]scored, 0, len(e.backends))

	for _, b := range e.backends {
		health := e.registry.Snapshot(b.ID)
		cs := CandidateScore{Backend: b.ID}

		// Hard confidentiality gate, checked before any scoring.
		if b.MaxConfidentiality < req.Confidentiality {
			cs.Eligible = false
			decision.Scores = append(decision.Scores, cs)
			decision.Reasoning = append(decision.Reasoning,
				fmt.Sprintf("backend %s rejected: approved up to %s, request requires %s",
					b.ID, b.MaxConfidentiality, req.Confidentiality))
			continue
		}
		anyApproved = true
		cs.Confidentiality = 1.0

		// Circuit breaker gate: an open breaker is never routed to,
		// including for an explicit preference.
		if !e.registry.CanExecute(b.ID) {
			cs.Eligible = false
			decision.Scores = append(decision.Scores, cs)
			decision.Reasoning = append(decision.Reasoning,
				fmt.Sprintf("backend %s rejected: circuit breaker %s", b.ID, health.State))
			continue
		}

		cs.Eligible = true
		cs.Availability = clamp01(health.Availability)
		cs.LatencyFit = latencyFit(b, req, health)
		cs.CostFit = costFit(b, req)
		cs.Headroom = headroom(b, req)
		if req.PreferredBackend != "" && req.PreferredBackend == b.ID {
			cs.Preference = 1.0
		}

		wLatency, wCost := factorWeightLatency, factorWeightCost
		if req.Priority == PriorityEmergency {
			wLatency, wCost = emergencyLatencyWeight, emergencyCostWeight
		}

		cs.Total = factorWeightAvailability*cs.Availability +
			wLatency*cs.LatencyFit +
			wCost*cs.CostFit +
			factorWeightHeadroom*cs.Headroom +
			factorWeightPreference*cs.Preference

		decision.Scores = append(decision.Scores, cs)
		decision.Reasoning = append(decision.Reasoning,
			fmt.Sprintf("backend %s scored %.4f (availability=%.2f latency_fit=%.2f cost_fit=%.2f headroom=%.2f preference=%.1f)",
				b.ID, cs.Total, cs.Availability, cs.LatencyFit, cs.CostFit, cs.Headroom, cs.Preference))

		eligible = append(eligible, scored{backend: b, score: cs, health: health})
	}

	if !anyApproved {
		return nil, &ConfidentialityViolationError{Level: req.Confidentiality}
	}

	if len(eligible) == 0 {
		decision.NoBackendAvailable = true
		decision.Reasoning = append(decision.Reasoning, "no eligible backend: all candidates gated out or circuit-open")
		return decision, &NoBackendAvailableError{Reasoning: decision.Reasoning}
	}

	// Sort best first. Ties break on higher availability, then lower
	// average cost.
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.score.Total != b.score.Total {
			return a.score.Total > b.score.Total
		}
		if a.health.Availability != b.health.Availability {
			return a.health.Availability > b.health.Availability
		}
		return a.health.AvgCost < b.health.AvgCost
	})

	selected := eligible[0]
	decision.SelectedBackend = selected.backend.ID
	decision.ConfidentialityCompliant = true
	for _, s := range eligible[1:] {
		decision.Alternatives = append(decision.Alternatives, s.backend.ID)
	}
	for _, a := range agents {
		decision.Agents = append(decision.Agents, a.ID)
	}
	decision.Reasoning = append(decision.Reasoning,
		fmt.Sprintf("selected backend %s (score=%.4f, %d alternative(s))",
			selected.backend.ID, selected.score.Total, len(decision.Alternatives)))

	return decision, nil
}

// latencyFit scores how well the backend's latency profile fits an
// optional deadline. Without a deadline the fit degrades gently with the
// expected latency. A backend that cannot meet the deadline scores zero.
func latencyFit(b BackendDescriptor, req *InferenceRequest, health HealthSnapshot) float64 {
	expected := float64(b.ExpectedLatencyMs)
	if health.AvgLatencyMs > 0 {
		expected = health.AvgLatencyMs
	}
	if req.MaxLatencyMs > 0 {
		deadline := float64(req.MaxLatencyMs)
		if expected > deadline {
			return 0
		}
		return 1 - expected/deadline
	}
	return clamp01(1 - expected/5000)
}

// costFit scores the estimated request cost against an optional budget.
// Without a budget every backend scores a neutral 0.5 and cost only
// matters in tie-breaking.
func costFit(b BackendDescriptor, req *InferenceRequest) float64 {
	if req.CostBudget <= 0 {
		return 0.5
	}
	tokens := req.MaxTokens
	if tokens == 0 {
		tokens = 1024
	}
	estimated := b.CostPerToken * float64(tokens)
	if estimated > req.CostBudget {
		return 0
	}
	return 1 - estimated/req.CostBudget
}

// headroom scores the backend's token capacity against the request.
func headroom(b BackendDescriptor, req *InferenceRequest) float64 {
	if b.MaxTokens == 0 {
		return 0.5
	}
	if req.MaxTokens > b.MaxTokens {
		return 0
	}
	if req.MaxTokens == 0 {
		return 1
	}
	return 1 - float64(req.MaxTokens)/float64(b.MaxTokens)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
