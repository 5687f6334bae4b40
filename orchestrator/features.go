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
	"math"
	"strings"
)

// AgentFeatures holds the per-agent numeric inputs to the weighting
// strategy.
type AgentFeatures struct {
	AgentID string `json:"agent_id"`

	// Confidence is the agent's reported confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Agreement is the mean pairwise similarity to the other responses.
	Agreement float64 `json:"agreement"`

	// CitationScore saturates at three citations.
	CitationScore float64 `json:"citation_score"`

	// LengthScore is the response length relative to the set mean,
	// capped at 1.
	LengthScore float64 `json:"length_score"`
}

// FeatureVector is the ephemeral numeric summary of one response set. It
// is recomputed per round and never persisted.
type FeatureVector struct {
	LengthVariance     float64         `json:"length_variance"`
	ConfidenceVariance float64         `json:"confidence_variance"`
	Agreement          float64         `json:"agreement"`
	CitationDensity    float64         `json:"citation_density"`
	PerAgent           []AgentFeatures `json:"per_agent"`
}

// Valid reports whether every feature is a finite number. A malformed
// vector triggers the uniform-weight consensus fallback.
func (fv *FeatureVector) Valid() bool {
	values := []float64{fv.LengthVariance, fv.ConfidenceVariance, fv.Agreement, fv.CitationDensity}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for _, a := range fv.PerAgent {
		for _, v := range []float64{a.Confidence, a.Agreement, a.CitationScore, a.LengthScore} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// extractFeatures derives the feature vector from a set of successful
// responses. The caller guarantees len(responses) >= 1.
func extractFeatures(responses []AgentResponse) *FeatureVector {
	n := len(responses)

	lengths := make([]float64, n)
	confidences := make([]float64, n)
	totalCitations := 0
	totalWords := 0
	for i, r := range responses {
		words := len(strings.Fields(r.Text))
		lengths[i] = float64(words)
		confidences[i] = r.Confidence
		totalCitations += r.Citations
		totalWords += words
	}

	meanLen := mean(lengths)
	// Normalize lengths by the mean so variance is scale-free.
	normLengths := make([]float64, n)
	for i, l := range lengths {
		if meanLen > 0 {
			normLengths[i] = l / meanLen
		}
	}

	fv := &FeatureVector{
		LengthVariance:     variance(normLengths),
		ConfidenceVariance: variance(confidences),
		PerAgent:           make([]AgentFeatures, n),
	}
	if totalWords > 0 {
		fv.CitationDensity = float64(totalCitations) / float64(totalWords) * 100
	}

	// Pairwise token-overlap agreement.
	sims := make([][]float64, n)
	for i := range sims {
		sims[i] = make([]float64, n)
	}
	var simSum float64
	var simCount int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := tokenSimilarity(responses[i].Text, responses[j].Text)
			sims[i][j] = s
			sims[j][i] = s
			simSum += s
			simCount++
		}
	}
	if simCount > 0 {
		fv.Agreement = simSum / float64(simCount)
	} else {
		fv.Agreement = 1.0
	}

	for i, r := range responses {
		agree := 1.0
		if n > 1 {
			var sum float64
			for j := 0; j < n; j++ {
				if j != i {
					sum += sims[i][j]
				}
			}
			agree = sum / float64(n-1)
		}
		fv.PerAgent[i] = AgentFeatures{
			AgentID:       r.AgentID,
			Confidence:    r.Confidence,
			Agreement:     agree,
			CitationScore: math.Min(1, float64(r.Citations)/3),
			LengthScore:   math.Min(1, normLengths[i]),
		}
	}

	return fv
}

// tokenSimilarity is the Jaccard coefficient over lowercase word sets, a
// cheap inter-agent agreement estimate.
func tokenSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if len(tok) > 1 {
			set[tok] = struct{}{}
		}
	}
	return set
}

// agreeingRatio is the fraction of responses whose mean similarity to
// the rest reaches 0.5, the answer-agreement term of the stop condition.
func agreeingRatio(responses []AgentResponse) float64 {
	n := len(responses)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return 1
	}

	agreeing := 0
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			if j != i {
				sum += tokenSimilarity(responses[i].Text, responses[j].Text)
			}
		}
		if sum/float64(n-1) >= 0.5 {
			agreeing++
		}
	}
	return float64(agreeing) / float64(n)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}
