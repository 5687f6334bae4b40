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
	"math"
	"sort"
	"strings"
	"time"

	"github.com/adrianlerer/SLM-Legal-ES-Research-sub000/shared/logger"
)

// Methodology tags recorded in the audit proof.
const (
	MethodologyFallback = "fallback_consensus"
	MethodologySingle   = "single_response"
	MethodologyNone     = "no_consensus"
)

// fallbackConfidenceCap bounds the reported confidence whenever the
// weighting strategy could not run and uniform weights were used.
const fallbackConfidenceCap = 0.6

// ConsensusEngine turns a set of agent responses into a single weighted
// result with a full audit proof.
type ConsensusEngine struct {
	cfg      *Config
	strategy WeightingStrategy
	logger   *logger.Logger
}

// NewConsensusEngine builds an engine around the given strategy. A nil
// strategy selects the heuristic default.
func NewConsensusEngine(cfg *Config, strategy WeightingStrategy) *ConsensusEngine {
	if strategy == nil {
		strategy = &HeuristicWeighting{}
	}
	return &ConsensusEngine{
		cfg:      cfg,
		strategy: strategy,
		logger:   logger.New("ConsensusEngine"),
	}
}

// Aggregate computes the consensus over the successful responses of a
// round. Failed responses must already be filtered out by the caller.
func (e *ConsensusEngine) Aggregate(requestID string, responses []AgentResponse) *ConsensusResult {
	switch len(responses) {
	case 0:
		return e.noConsensus(requestID, "no successful agent responses to aggregate")
	case 1:
		return e.markLowConfidence(e.single(requestID, responses[0]))
	}

	fv := extractFeatures(responses)

	weights, err := e.strategy.Weights(fv)
	if err != nil || !finiteWeights(weights) {
		e.logger.Warn("", requestID, "weighting strategy failed, using uniform fallback",
			map[string]interface{}{"strategy": e.strategy.Name(), "error": fmt.Sprint(err)})
		return e.markLowConfidence(e.fallback(requestID, responses, fv))
	}

	// A pre-bound dominant weight means one agent owns the answer:
	// pass its text through unmodified instead of merging.
	dominant := -1
	for i, w := range weights {
		if w >= e.cfg.MaxWeightCap {
			dominant = i
			break
		}
	}

	bounded := boundWeights(weights, e.cfg.MinWeight, e.cfg.MaxWeightCap)

	var finalText string
	if dominant >= 0 {
		finalText = responses[dominant].Text
	} else {
		finalText = mergeResponses(responses, bounded)
	}

	confidence := weightedConfidence(responses, bounded)
	stability := stabilityScore(fv)

	return e.markLowConfidence(&ConsensusResult{
		RequestID:           requestID,
		FinalText:           finalText,
		Confidence:          confidence,
		AgentWeights:        weightMap(responses, bounded),
		WeightJustification: justifications(fv, bounded),
		StabilityScore:      stability,
		AuditProof: AuditProof{
			FeatureImportance: e.strategy.FeatureImportance(),
			Features:          fv,
			Methodology:       e.strategy.Name(),
			Timestamp:         time.Now().UTC(),
		},
	})
}

// markLowConfidence annotates results whose confidence fell under the
// configured consensus threshold. No-consensus results stay unmarked;
// their zero confidence already says everything.
func (e *ConsensusEngine) markLowConfidence(res *ConsensusResult) *ConsensusResult {
	if !res.NoConsensus && res.Confidence < e.cfg.ConsensusConfidenceThreshold {
		res.LowConfidence = true
	}
	return res
}

func (e *ConsensusEngine) single(requestID string, resp AgentResponse) *ConsensusResult {
	return &ConsensusResult{
		RequestID:    requestID,
		FinalText:    resp.Text,
		Confidence:   clamp01(resp.Confidence),
		AgentWeights: map[string]float64{resp.AgentID: 1.0},
		WeightJustification: map[string]string{
			resp.AgentID: "sole successful response, full weight",
		},
		StabilityScore: clamp01(resp.Confidence),
		AuditProof: AuditProof{
			FeatureImportance: map[string]float64{},
			Methodology:       MethodologySingle,
			Timestamp:         time.Now().UTC(),
		},
	}
}

func (e *ConsensusEngine) fallback(requestID string, responses []AgentResponse, fv *FeatureVector) *ConsensusResult {
	n := len(responses)
	uniform := 1.0 / float64(n)
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = uniform
	}

	confidence := math.Min(fallbackConfidenceCap, weightedConfidence(responses, weights))

	just := make(map[string]string, n)
	for _, r := range responses {
		just[r.AgentID] = "uniform weight, weighting strategy unavailable"
	}

	return &ConsensusResult{
		RequestID:           requestID,
		FinalText:           mergeResponses(responses, weights),
		Confidence:          confidence,
		AgentWeights:        weightMap(responses, weights),
		WeightJustification: just,
		StabilityScore:      0,
		AuditProof: AuditProof{
			FeatureImportance: map[string]float64{},
			Features:          fv,
			Methodology:       MethodologyFallback,
			Timestamp:         time.Now().UTC(),
		},
	}
}

func (e *ConsensusEngine) noConsensus(requestID, reason string) *ConsensusResult {
	return &ConsensusResult{
		RequestID:    requestID,
		Confidence:   0,
		AgentWeights: map[string]float64{},
		NoConsensus:  true,
		Error:        reason,
		AuditProof: AuditProof{
			FeatureImportance: map[string]float64{},
			Methodology:       MethodologyNone,
			Timestamp:         time.Now().UTC(),
		},
	}
}

// mergeResponses concatenates contributions in weight order with
// per-agent attribution, highest weighted first.
func mergeResponses(responses []AgentResponse, weights []float64) string {
	type contribution struct {
		resp   AgentResponse
		weight float64
	}
	contribs := make([]contribution, len(responses))
	for i, r := range responses {
		contribs[i] = contribution{resp: r, weight: weights[i]}
	}
	sort.SliceStable(contribs, func(i, j int) bool {
		return contribs[i].weight > contribs[j].weight
	})

	var b strings.Builder
	for i, c := range contribs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s · weight %.2f]\n%s", c.resp.AgentID, c.weight, c.resp.Text)
	}
	return b.String()
}

func weightedConfidence(responses []AgentResponse, weights []float64) float64 {
	var sum float64
	for i, r := range responses {
		sum += weights[i] * r.Confidence
	}
	return clamp01(sum)
}

// stabilityScore is the weakest of three coherence signals: inter-agent
// agreement, confidence dispersion and length dispersion.
func stabilityScore(fv *FeatureVector) float64 {
	agreementCoherence := clamp01(fv.Agreement)
	confidenceCoherence := clamp01(1 - 4*fv.ConfidenceVariance)
	lengthCoherence := clamp01(1 - fv.LengthVariance)
	return math.Min(agreementCoherence, math.Min(confidenceCoherence, lengthCoherence))
}

func weightMap(responses []AgentResponse, weights []float64) map[string]float64 {
	m := make(map[string]float64, len(responses))
	for i, r := range responses {
		m[r.AgentID] = weights[i]
	}
	return m
}

func justifications(fv *FeatureVector, weights []float64) map[string]string {
	m := make(map[string]string, len(fv.PerAgent))
	for i, a := range fv.PerAgent {
		m[a.AgentID] = fmt.Sprintf(
			"weight %.3f from confidence %.2f, agreement %.2f, citation coverage %.2f",
			weights[i], a.Confidence, a.Agreement, a.CitationScore)
	}
	return m
}

func finiteWeights(weights []float64) bool {
	for _, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return false
		}
	}
	return len(weights) > 0
}
