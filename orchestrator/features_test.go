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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "el contrato es nulo", "el contrato es nulo", 1.0},
		{"disjoint", "contrato arrendamiento urbano", "sentencia penal firme", 0.0},
		{"both empty", "", "", 1.0},
		{"one empty", "contrato", "", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tokenSimilarity(tt.a, tt.b), 1e-9)
		})
	}

	t.Run("partial overlap is symmetric", func(t *testing.T) {
		a := "el contrato de arrendamiento es válido"
		b := "el contrato de compraventa es válido"
		s1 := tokenSimilarity(a, b)
		s2 := tokenSimilarity(b, a)
		assert.Equal(t, s1, s2)
		assert.Greater(t, s1, 0.0)
		assert.Less(t, s1, 1.0)
	})

	t.Run("punctuation does not split tokens apart", func(t *testing.T) {
		assert.InDelta(t, 1.0, tokenSimilarity("contrato nulo.", "Contrato nulo"), 1e-9)
	})
}

func TestExtractFeatures(t *testing.T) {
	responses := []AgentResponse{
		{AgentID: "a", Text: "el contrato es nulo por falta de objeto conforme al código civil", Confidence: 0.9, Citations: 1},
		{AgentID: "b", Text: "el contrato es nulo por falta de objeto conforme al código civil", Confidence: 0.85, Citations: 1},
		{AgentID: "c", Text: "se recomienda elevar consulta al departamento fiscal antes de firmar", Confidence: 0.3, Citations: 0},
	}

	fv := extractFeatures(responses)
	require.Len(t, fv.PerAgent, 3)
	require.True(t, fv.Valid())

	// The two agreeing agents must carry a visibly higher agreement
	// feature than the diverging one.
	assert.Greater(t, fv.PerAgent[0].Agreement, fv.PerAgent[2].Agreement)
	assert.Greater(t, fv.PerAgent[1].Agreement, fv.PerAgent[2].Agreement)
	assert.InDelta(t, fv.PerAgent[0].Agreement, fv.PerAgent[1].Agreement, 1e-9)

	assert.InDelta(t, 1.0/3.0, fv.PerAgent[0].CitationScore, 1e-9)
	assert.Zero(t, fv.PerAgent[2].CitationScore)

	assert.Greater(t, fv.ConfidenceVariance, 0.0)
	assert.GreaterOrEqual(t, fv.Agreement, 0.0)
	assert.LessOrEqual(t, fv.Agreement, 1.0)
}

func TestExtractFeaturesSingleResponse(t *testing.T) {
	fv := extractFeatures([]AgentResponse{
		{AgentID: "solo", Text: "respuesta única", Confidence: 0.8},
	})
	require.Len(t, fv.PerAgent, 1)
	assert.Equal(t, 1.0, fv.Agreement)
	assert.Equal(t, 1.0, fv.PerAgent[0].Agreement)
	assert.Zero(t, fv.ConfidenceVariance)
}

func TestFeatureVectorValid(t *testing.T) {
	fv := &FeatureVector{Agreement: 0.5, PerAgent: []AgentFeatures{{Confidence: 0.9}}}
	assert.True(t, fv.Valid())

	fv.PerAgent[0].Confidence = math.NaN()
	assert.False(t, fv.Valid())

	fv.PerAgent[0].Confidence = 0.9
	fv.LengthVariance = math.Inf(1)
	assert.False(t, fv.Valid())
}

func TestAgreeingRatio(t *testing.T) {
	agree1 := AgentResponse{AgentID: "a", Text: "la cláusula tercera es abusiva y debe tenerse por no puesta"}
	agree2 := AgentResponse{AgentID: "b", Text: "la cláusula tercera es abusiva y debe tenerse por no puesta"}
	diverge := AgentResponse{AgentID: "c", Text: "procede interponer recurso contencioso administrativo en plazo"}

	t.Run("unanimous", func(t *testing.T) {
		assert.InDelta(t, 1.0, agreeingRatio([]AgentResponse{agree1, agree2}), 1e-9)
	})
	t.Run("majority cluster", func(t *testing.T) {
		ratio := agreeingRatio([]AgentResponse{agree1, agree2, diverge})
		assert.InDelta(t, 2.0/3.0, ratio, 1e-9)
	})
	t.Run("single response always agrees with itself", func(t *testing.T) {
		assert.Equal(t, 1.0, agreeingRatio([]AgentResponse{diverge}))
	})
	t.Run("empty set", func(t *testing.T) {
		assert.Zero(t, agreeingRatio(nil))
	})
}
