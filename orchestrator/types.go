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

// Package orchestrator implements the hybrid inference router and
// multi-agent consensus engine. A request enters the
// OrchestrationController, which asks the RoutingDecisionEngine (informed
// by the BackendHealthRegistry) for a backend selection, fans the request
// out to specialized reasoning agents in bounded concurrent rounds, and
// finalizes a weighted, auditable consensus from the collected responses.
package orchestrator

import (
	"fmt"
	"time"
)

// ConfidentialityLevel is the ordinal sensitivity classification that
// governs backend eligibility. Higher levels are strictly more sensitive.
type ConfidentialityLevel int

const (
	ConfidentialityPublic ConfidentialityLevel = iota
	ConfidentialityInternal
	ConfidentialityConfidential
	ConfidentialityHighlyConfidential
	ConfidentialityMaximumSecurity
)

var confidentialityNames = map[ConfidentialityLevel]string{
	ConfidentialityPublic:             "public",
	ConfidentialityInternal:           "internal",
	ConfidentialityConfidential:       "confidential",
	ConfidentialityHighlyConfidential: "highly_confidential",
	ConfidentialityMaximumSecurity:    "maximum_security",
}

// String returns the wire name of the level.
func (c ConfidentialityLevel) String() string {
	if name, ok := confidentialityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("confidentiality(%d)", int(c))
}

// ParseConfidentialityLevel maps a wire name back to its level.
func ParseConfidentialityLevel(s string) (ConfidentialityLevel, error) {
	for level, name := range confidentialityNames {
		if name == s {
			return level, nil
		}
	}
	return ConfidentialityPublic, fmt.Errorf("unknown confidentiality level %q", s)
}

// RequiresApprovedBackend reports whether the level may only be served by
// a backend explicitly approved for it. The gate is checked before any
// scoring and cannot be overridden by other routing factors.
func (c ConfidentialityLevel) RequiresApprovedBackend() bool {
	return c >= ConfidentialityHighlyConfidential
}

// MarshalJSON encodes the level as its wire name.
func (c ConfidentialityLevel) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", c.String())), nil
}

// UnmarshalJSON decodes the level from its wire name.
func (c *ConfidentialityLevel) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	level, err := ParseConfidentialityLevel(s)
	if err != nil {
		return err
	}
	*c = level
	return nil
}

// Priority classifies request urgency. Emergency requests weight latency
// fit more heavily during routing.
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

// Locality identifies where a backend executes.
type Locality string

const (
	LocalityLocal  Locality = "local"
	LocalityRemote Locality = "remote"
)

// BackendDescriptor describes an inference execution target. Descriptors
// are immutable and configured at startup; mutable health state lives in
// the BackendHealthRegistry.
type BackendDescriptor struct {
	// ID is the unique backend identifier used for routing and metrics.
	ID string `json:"id" yaml:"id"`

	// Locality is "local" or "remote".
	Locality Locality `json:"locality" yaml:"locality"`

	// CostPerToken is the average cost in USD per generated token.
	CostPerToken float64 `json:"cost_per_token" yaml:"cost_per_token"`

	// ExpectedLatencyMs is the typical end-to-end call latency.
	ExpectedLatencyMs int64 `json:"expected_latency_ms" yaml:"expected_latency_ms"`

	// MaxConfidentiality is the highest confidentiality tier this backend
	// is approved to serve.
	MaxConfidentiality ConfidentialityLevel `json:"max_confidentiality" yaml:"max_confidentiality"`

	// MaxTokens is the largest completion this backend can produce.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Provider selects the invoker implementation: "openai", "bedrock"
	// or "local".
	Provider string `json:"provider,omitempty" yaml:"provider"`

	// Model is the provider-specific model identifier.
	Model string `json:"model,omitempty" yaml:"model"`

	// Endpoint is the base URL for local backends.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint"`
}

// InferenceRequest is a single query into the router.
type InferenceRequest struct {
	// RequestID correlates logs, audit records, and metrics. Assigned by
	// the controller when empty.
	RequestID string `json:"request_id,omitempty"`

	// ClientID identifies the calling tenant for rate limiting and audit.
	ClientID string `json:"client_id,omitempty"`

	// Prompt is the payload handed to each agent.
	Prompt string `json:"prompt"`

	// Confidentiality governs which backends are eligible.
	Confidentiality ConfidentialityLevel `json:"confidentiality"`

	// Priority classifies urgency. Defaults to normal.
	Priority Priority `json:"priority,omitempty"`

	// MaxTokens bounds each agent completion.
	MaxTokens int `json:"max_tokens,omitempty"`

	// MaxLatencyMs is an optional per-call deadline hint (0 = none).
	MaxLatencyMs int64 `json:"max_latency_ms,omitempty"`

	// CostBudget is an optional per-request budget in USD (0 = none).
	CostBudget float64 `json:"cost_budget,omitempty"`

	// PreferredBackend is an optional explicit preference. It earns a
	// scoring bonus but never bypasses the confidentiality gate or an
	// open circuit breaker.
	PreferredBackend string `json:"preferred_backend,omitempty"`

	// DomainHint is an optional upstream classification (e.g. "contract",
	// "litigation"). Never required for correctness.
	DomainHint string `json:"domain_hint,omitempty"`
}

// CandidateScore records the factor-by-factor score of one backend during
// routing, for auditability.
type CandidateScore struct {
	Backend         string  `json:"backend"`
	Total           float64 `json:"total"`
	Confidentiality float64 `json:"confidentiality"`
	Availability    float64 `json:"availability"`
	LatencyFit      float64 `json:"latency_fit"`
	CostFit         float64 `json:"cost_fit"`
	Headroom        float64 `json:"headroom"`
	Preference      float64 `json:"preference"`
	Eligible        bool    `json:"eligible"`
}

// RoutingDecision is the immutable output of the RoutingDecisionEngine.
type RoutingDecision struct {
	// SelectedBackend is the chosen backend ID. Empty when no backend
	// was available.
	SelectedBackend string `json:"selected_backend"`

	// Agents lists the agent IDs selected for dispatch.
	Agents []string `json:"agents,omitempty"`

	// Scores holds the per-candidate factor breakdown, including
	// ineligible candidates with their gating reason in the trace.
	Scores []CandidateScore `json:"scores"`

	// Reasoning is the ordered, human-readable factor trace.
	Reasoning []string `json:"reasoning"`

	// Alternatives are the remaining eligible backends, best first.
	Alternatives []string `json:"alternatives,omitempty"`

	// ConfidentialityCompliant is true when the selected backend is
	// approved for the request's confidentiality level.
	ConfidentialityCompliant bool `json:"confidentiality_compliant"`

	// NoBackendAvailable marks a decision in which every candidate was
	// gated out or circuit-open. Constraints are never silently relaxed.
	NoBackendAvailable bool `json:"no_backend_available,omitempty"`
}

// AgentResponse is the outcome of one agent call within one round. It is
// created once per call and never mutated afterwards.
type AgentResponse struct {
	AgentID    string        `json:"agent_id"`
	Backend    string        `json:"backend"`
	Text       string        `json:"text,omitempty"`
	Confidence float64       `json:"confidence"`
	Latency    time.Duration `json:"latency"`
	Cost       float64       `json:"cost"`
	Tokens     int           `json:"tokens"`

	// Citations counts normative references found in the text, a quality
	// signal feeding the consensus feature vector.
	Citations int `json:"citations"`

	// EvidenceVerified reports whether the response carried checkable
	// supporting citations.
	EvidenceVerified bool `json:"evidence_verified"`

	// Err is set when the call failed. Failed responses are excluded
	// from consensus but still reported to the health registry.
	Err error `json:"-"`

	// ErrorText mirrors Err for serialization.
	ErrorText string `json:"error,omitempty"`

	// TimedOut marks calls that hit their per-call timeout.
	TimedOut bool `json:"timed_out,omitempty"`

	// Cancelled marks calls cut off by the round-level deadline. They
	// count as circuit-breaker failures but are excluded from stop
	// criteria quality numerators.
	Cancelled bool `json:"cancelled,omitempty"`
}

// OK reports whether the call produced a usable response.
func (r *AgentResponse) OK() bool {
	return r.Err == nil && !r.TimedOut && !r.Cancelled && r.Text != ""
}

// AuditProof justifies a consensus outcome: the applied weights, the
// features they were derived from, and the methodology that produced them.
type AuditProof struct {
	FeatureImportance map[string]float64 `json:"feature_importance"`
	Features          *FeatureVector     `json:"features,omitempty"`
	Methodology       string             `json:"methodology"`
	Timestamp         time.Time          `json:"timestamp"`
}

// ConsensusResult is the terminal artifact returned to the caller and
// handed to the audit collaborator.
type ConsensusResult struct {
	RequestID string `json:"request_id"`

	FinalText  string  `json:"final_text"`
	Confidence float64 `json:"confidence"`

	// LowConfidence marks a result whose final confidence fell below the
	// configured consensus_confidence_threshold. The answer is still
	// returned; callers decide whether to surface or escalate it.
	LowConfidence bool `json:"low_confidence,omitempty"`

	// AgentWeights maps agent ID to its applied weight. Weights sum to
	// 1.0 with no entry above the configured cap, except the
	// single-response pass-through which assigns the full weight.
	AgentWeights map[string]float64 `json:"agent_weights"`

	// WeightJustification maps agent ID to a human-readable explanation
	// of its weight.
	WeightJustification map[string]string `json:"weight_justification,omitempty"`

	AuditProof AuditProof `json:"audit_proof"`

	// RoutingDecision is the final round's routing decision.
	RoutingDecision *RoutingDecision `json:"routing_decision,omitempty"`

	// StabilityScore is the minimum of the sub-component coherence
	// scores (agreement, confidence spread, length spread).
	StabilityScore float64 `json:"stability_score"`

	// Rounds is the number of dispatch rounds executed.
	Rounds int `json:"rounds"`

	// NoConsensus marks the deterministic empty result produced when no
	// usable responses existed. Confidence is 0 and Error is set.
	NoConsensus bool `json:"no_consensus,omitempty"`

	// Error carries the expected-failure explanation for typed no-result
	// outcomes. Unexpected faults surface as Go errors instead.
	Error string `json:"error,omitempty"`

	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

// AgentProfile describes a specialized reasoning agent. The prompt
// template frames the shared request for the agent's specialty.
type AgentProfile struct {
	ID        string `json:"id" yaml:"id"`
	Specialty string `json:"specialty" yaml:"specialty"`

	// SystemPrompt frames the agent's role, e.g. a normative-analysis
	// agent vs a precedent-review agent.
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
}
