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
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoutingConfig() Config {
	cfg := DefaultConfig()
	cfg.Backends = []BackendDescriptor{
		{ID: "local-slm", Locality: LocalityLocal, CostPerToken: 0, ExpectedLatencyMs: 2000, MaxConfidentiality: ConfidentialityMaximumSecurity, MaxTokens: 4096},
		{ID: "remote-llm", Locality: LocalityRemote, CostPerToken: 0.00002, ExpectedLatencyMs: 800, MaxConfidentiality: ConfidentialityConfidential, MaxTokens: 8192},
	}
	cfg.Agents = []AgentProfile{
		{ID: "normative", Specialty: "normative analysis"},
		{ID: "precedent", Specialty: "precedent review"},
	}
	return cfg
}

func newTestEngine(cfg Config) (*RoutingEngine, *HealthRegistry) {
	reg := NewHealthRegistry(cfg)
	return NewRoutingEngine(cfg.Backends, reg), reg
}

func TestDeadlineOverridesSlowBackend(t *testing.T) {
	cfg := testRoutingConfig()
	engine, _ := newTestEngine(cfg)

	decision, err := engine.Decide(&InferenceRequest{
		Prompt:          "resumen de la sentencia",
		Confidentiality: ConfidentialityPublic,
		Priority:        PriorityNormal,
		MaxLatencyMs:    1500,
	}, cfg.Agents)

	require.NoError(t, err)
	assert.Equal(t, "remote-llm", decision.SelectedBackend,
		"a backend that cannot meet the deadline must lose to one that can")
	assert.Equal(t, []string{"local-slm"}, decision.Alternatives)
	assert.True(t, decision.ConfidentialityCompliant)
	assert.NotEmpty(t, decision.Reasoning)

	for _, cs := range decision.Scores {
		if cs.Backend == "local-slm" {
			assert.Zero(t, cs.LatencyFit, "expected latency above the deadline scores zero")
		}
	}
}

func TestConfidentialityGateExcludesRemote(t *testing.T) {
	cfg := testRoutingConfig()
	engine, _ := newTestEngine(cfg)

	decision, err := engine.Decide(&InferenceRequest{
		Prompt:          "cláusulas del contrato de fusión",
		Confidentiality: ConfidentialityHighlyConfidential,
		Priority:        PriorityNormal,
	}, cfg.Agents)

	require.NoError(t, err)
	assert.Equal(t, "local-slm", decision.SelectedBackend)
	assert.Empty(t, decision.Alternatives)
	assert.True(t, decision.ConfidentialityCompliant)
}

func TestConfidentialityGateIsNeverOutweighed(t *testing.T) {
	// Whatever the other attributes look like, a backend approved below
	// the request's level must never be selected.
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		cfg := DefaultConfig()
		cfg.Backends = []BackendDescriptor{
			{
				ID:                 "under-approved",
				Locality:           LocalityRemote,
				CostPerToken:       0,
				ExpectedLatencyMs:  int64(1 + rng.Intn(100)),
				MaxConfidentiality: ConfidentialityInternal,
				MaxTokens:          1 << 20,
			},
			{
				ID:                 "approved",
				Locality:           LocalityLocal,
				CostPerToken:       rng.Float64(),
				ExpectedLatencyMs:  int64(3000 + rng.Intn(5000)),
				MaxConfidentiality: ConfidentialityMaximumSecurity,
				MaxTokens:          256,
			},
		}
		engine, _ := newTestEngine(cfg)

		decision, err := engine.Decide(&InferenceRequest{
			Prompt:           "x",
			Confidentiality:  ConfidentialityHighlyConfidential,
			Priority:         PriorityEmergency,
			PreferredBackend: "under-approved",
		}, nil)

		require.NoError(t, err)
		require.Equal(t, "approved", decision.SelectedBackend)
	}
}

func TestConfidentialityViolationWhenNoBackendApproved(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backends = []BackendDescriptor{
		{ID: "remote-llm", Locality: LocalityRemote, ExpectedLatencyMs: 800, MaxConfidentiality: ConfidentialityConfidential},
	}
	engine, _ := newTestEngine(cfg)

	_, err := engine.Decide(&InferenceRequest{
		Prompt:          "x",
		Confidentiality: ConfidentialityMaximumSecurity,
	}, nil)

	var violation *ConfidentialityViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, ConfidentialityMaximumSecurity, violation.Level)
}

func TestNoBackendAvailableWhenAllBreakersOpen(t *testing.T) {
	cfg := testRoutingConfig()
	engine, reg := newTestEngine(cfg)

	for _, b := range cfg.Backends {
		for i := 0; i < cfg.FailureThreshold; i++ {
			reg.RecordFailure(b.ID)
		}
	}

	decision, err := engine.Decide(&InferenceRequest{
		Prompt:          "x",
		Confidentiality: ConfidentialityPublic,
	}, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoBackendAvailable))
	require.NotNil(t, decision)
	assert.True(t, decision.NoBackendAvailable)
	assert.Empty(t, decision.SelectedBackend)
}

func TestEmergencyPriorityFavorsLatency(t *testing.T) {
	cfg := testRoutingConfig()
	req := &InferenceRequest{
		Prompt:           "medidas cautelares urgentes",
		Confidentiality:  ConfidentialityPublic,
		MaxLatencyMs:     1500,
		PreferredBackend: "local-slm",
	}

	t.Run("normal priority honors the preference", func(t *testing.T) {
		engine, _ := newTestEngine(cfg)
		req := *req
		req.Priority = PriorityNormal
		decision, err := engine.Decide(&req, nil)
		require.NoError(t, err)
		assert.Equal(t, "local-slm", decision.SelectedBackend)
	})

	t.Run("emergency priority overrides it for the faster backend", func(t *testing.T) {
		engine, _ := newTestEngine(cfg)
		req := *req
		req.Priority = PriorityEmergency
		decision, err := engine.Decide(&req, nil)
		require.NoError(t, err)
		assert.Equal(t, "remote-llm", decision.SelectedBackend)
	})
}

func TestTieBreaksOnAvailabilityThenCost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backends = []BackendDescriptor{
		{ID: "expensive", Locality: LocalityRemote, CostPerToken: 0.00005, ExpectedLatencyMs: 800, MaxConfidentiality: ConfidentialityConfidential, MaxTokens: 8192},
		{ID: "cheap", Locality: LocalityRemote, CostPerToken: 0.00001, ExpectedLatencyMs: 800, MaxConfidentiality: ConfidentialityConfidential, MaxTokens: 8192},
	}

	t.Run("equal scores fall to lower average cost", func(t *testing.T) {
		engine, _ := newTestEngine(cfg)
		decision, err := engine.Decide(&InferenceRequest{
			Prompt:          "x",
			Confidentiality: ConfidentialityPublic,
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "cheap", decision.SelectedBackend)
	})

	t.Run("availability is consulted before cost", func(t *testing.T) {
		engine, reg := newTestEngine(cfg)
		// One failure dents the cheap backend's availability EMA without
		// opening its breaker.
		reg.RecordFailure("cheap")
		decision, err := engine.Decide(&InferenceRequest{
			Prompt:          "x",
			Confidentiality: ConfidentialityPublic,
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "expensive", decision.SelectedBackend)
	})
}

func TestDecisionCarriesAgentPanel(t *testing.T) {
	cfg := testRoutingConfig()
	engine, _ := newTestEngine(cfg)

	decision, err := engine.Decide(&InferenceRequest{
		Prompt:          "x",
		Confidentiality: ConfidentialityPublic,
	}, cfg.Agents)

	require.NoError(t, err)
	assert.Equal(t, []string{"normative", "precedent"}, decision.Agents)
}
