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
)

// WeightingStrategy converts a feature vector into one normalized weight
// per agent. Implementations must be deterministic: the same vector
// always yields the same weights.
type WeightingStrategy interface {
	// Name tags the audit proof with the strategy and its version.
	Name() string

	// Weights returns one weight per PerAgent entry, summing to 1.
	Weights(fv *FeatureVector) ([]float64, error)

	// FeatureImportance exposes the relative contribution of each
	// feature for the audit proof.
	FeatureImportance() map[string]float64
}

// HeuristicWeighting is the default strategy: a fixed linear blend of
// confidence, agreement and citation coverage.
type HeuristicWeighting struct{}

const (
	heuristicConfidenceCoeff = 0.5
	heuristicAgreementCoeff  = 0.3
	heuristicCitationCoeff   = 0.2
)

func (h *HeuristicWeighting) Name() string { return "heuristic_weighted_v1" }

func (h *HeuristicWeighting) FeatureImportance() map[string]float64 {
	return map[string]float64{
		"confidence": heuristicConfidenceCoeff,
		"agreement":  heuristicAgreementCoeff,
		"citations":  heuristicCitationCoeff,
	}
}

func (h *HeuristicWeighting) Weights(fv *FeatureVector) ([]float64, error) {
	if fv == nil || len(fv.PerAgent) == 0 {
		return nil, fmt.Errorf("heuristic weighting: empty feature vector")
	}
	if !fv.Valid() {
		return nil, fmt.Errorf("heuristic weighting: non-finite feature values")
	}

	raw := make([]float64, len(fv.PerAgent))
	for i, a := range fv.PerAgent {
		raw[i] = heuristicConfidenceCoeff*a.Confidence +
			heuristicAgreementCoeff*a.Agreement +
			heuristicCitationCoeff*a.CitationScore
	}
	return normalizeRaw(raw)
}

// RegressionWeighting scores agents with a linear model over the full
// per-agent feature set. The default coefficients were fitted offline on
// reviewed consensus outcomes; callers may supply their own.
type RegressionWeighting struct {
	Intercept       float64
	ConfidenceCoeff float64
	AgreementCoeff  float64
	CitationCoeff   float64
	LengthCoeff     float64
}

// NewRegressionWeighting returns the strategy with the default fitted
// coefficients.
func NewRegressionWeighting() *RegressionWeighting {
	return &RegressionWeighting{
		Intercept:       0.05,
		ConfidenceCoeff: 0.45,
		AgreementCoeff:  0.30,
		CitationCoeff:   0.15,
		LengthCoeff:     0.05,
	}
}

func (r *RegressionWeighting) Name() string { return "regression_weighted_v1" }

func (r *RegressionWeighting) FeatureImportance() map[string]float64 {
	total := math.Abs(r.ConfidenceCoeff) + math.Abs(r.AgreementCoeff) +
		math.Abs(r.CitationCoeff) + math.Abs(r.LengthCoeff)
	if total == 0 {
		total = 1
	}
	return map[string]float64{
		"confidence": math.Abs(r.ConfidenceCoeff) / total,
		"agreement":  math.Abs(r.AgreementCoeff) / total,
		"citations":  math.Abs(r.CitationCoeff) / total,
		"length":     math.Abs(r.LengthCoeff) / total,
	}
}

func (r *RegressionWeighting) Weights(fv *FeatureVector) ([]float64, error) {
	if fv == nil || len(fv.PerAgent) == 0 {
		return nil, fmt.Errorf("regression weighting: empty feature vector")
	}
	if !fv.Valid() {
		return nil, fmt.Errorf("regression weighting: non-finite feature values")
	}

	raw := make([]float64, len(fv.PerAgent))
	for i, a := range fv.PerAgent {
		score := r.Intercept +
			r.ConfidenceCoeff*a.Confidence +
			r.AgreementCoeff*a.Agreement +
			r.CitationCoeff*a.CitationScore +
			r.LengthCoeff*a.LengthScore
		raw[i] = math.Max(0, score)
	}
	return normalizeRaw(raw)
}

// normalizeRaw scales raw scores to sum to 1, falling back to uniform
// weights when every score is zero.
func normalizeRaw(raw []float64) ([]float64, error) {
	var sum float64
	for _, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, fmt.Errorf("invalid raw score %v", v)
		}
		sum += v
	}

	weights := make([]float64, len(raw))
	if sum == 0 {
		uniform := 1.0 / float64(len(raw))
		for i := range weights {
			weights[i] = uniform
		}
		return weights, nil
	}
	for i, v := range raw {
		weights[i] = v / sum
	}
	return weights, nil
}

// boundWeights enforces the per-agent floor and cap while keeping the
// sum at 1. Capped entries are pinned and the remainder redistributed
// proportionally among the rest until the assignment is stable.
func boundWeights(weights []float64, minWeight, maxCap float64) []float64 {
	n := len(weights)
	if n == 0 {
		return weights
	}
	if n == 1 {
		return []float64{1.0}
	}

	// Guard against infeasible bounds for the given agent count.
	floor := math.Min(minWeight, 1.0/float64(n))
	cap := math.Max(maxCap, 1.0/float64(n))

	out := make([]float64, n)
	copy(out, weights)

	for iter := 0; iter < 2*n; iter++ {
		changed := false

		// Pin entries outside the bounds.
		pinned := make([]bool, n)
		var pinnedSum float64
		for i, w := range out {
			if w > cap {
				out[i] = cap
				pinned[i] = true
				pinnedSum += cap
				changed = true
			} else if w < floor {
				out[i] = floor
				pinned[i] = true
				pinnedSum += floor
				changed = true
			}
		}
		if !changed {
			break
		}

		// Rescale the free entries to absorb the difference.
		var freeSum float64
		for i, w := range out {
			if !pinned[i] {
				freeSum += w
			}
		}
		remainder := 1.0 - pinnedSum
		if freeSum == 0 || remainder <= 0 {
			// Everything pinned (or the pinned mass already covers the
			// budget): the final renormalization settles the sum.
			break
		}
		scale := remainder / freeSum
		for i := range out {
			if !pinned[i] {
				out[i] *= scale
			}
		}
	}

	// Settle the sum to exactly 1 by moving the residual into whatever
	// slack the bounds leave, so no entry is pushed back outside them.
	var sum float64
	for _, w := range out {
		sum += w
	}
	residual := 1.0 - sum
	if math.Abs(residual) > 1e-12 {
		var slack float64
		for _, w := range out {
			if residual > 0 {
				slack += cap - w
			} else {
				slack += w - floor
			}
		}
		if slack > 0 {
			for i, w := range out {
				if residual > 0 {
					out[i] += residual * (cap - w) / slack
				} else {
					out[i] += residual * (w - floor) / slack
				}
			}
		}
	}
	return out
}
