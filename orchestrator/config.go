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
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every knob the router recognizes, with named, typed fields
// and explicit defaults. There are no hidden globals; the orchestrator
// owns the lifecycle of everything it constructs from this struct.
type Config struct {
	// Circuit breaker
	FailureThreshold int     `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeoutS int     `yaml:"recovery_timeout_s" json:"recovery_timeout_s"`
	EMAAlpha         float64 `yaml:"ema_alpha" json:"ema_alpha"`

	// Consensus weighting
	MaxWeightCap float64 `yaml:"max_weight_cap" json:"max_weight_cap"`
	MinWeight    float64 `yaml:"min_weight" json:"min_weight"`

	// Round control
	MinRounds int `yaml:"min_rounds" json:"min_rounds"`
	MaxRounds int `yaml:"max_rounds" json:"max_rounds"`

	// Stop-condition thresholds
	ConsensusConfidenceThreshold float64 `yaml:"consensus_confidence_threshold" json:"consensus_confidence_threshold"`
	AgreementThreshold           float64 `yaml:"agreement_threshold" json:"agreement_threshold"`
	MeanConfidenceThreshold      float64 `yaml:"mean_confidence_threshold" json:"mean_confidence_threshold"`
	EvidenceThreshold            float64 `yaml:"evidence_threshold" json:"evidence_threshold"`

	// Dispatch timing
	AgentCallTimeout time.Duration `yaml:"agent_call_timeout" json:"agent_call_timeout"`
	MaxRoundLatency  time.Duration `yaml:"max_round_latency" json:"max_round_latency"`

	// Topology
	Backends []BackendDescriptor `yaml:"backends" json:"backends"`
	Agents   []AgentProfile      `yaml:"agents" json:"agents"`
}

// DefaultConfig returns the recognized defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:             5,
		RecoveryTimeoutS:             60,
		EMAAlpha:                     0.1,
		MaxWeightCap:                 0.8,
		MinWeight:                    0.1,
		MinRounds:                    2,
		MaxRounds:                    5,
		ConsensusConfidenceThreshold: 0.7,
		AgreementThreshold:           0.7,
		MeanConfidenceThreshold:      0.8,
		EvidenceThreshold:            0.6,
		AgentCallTimeout:             30 * time.Second,
		MaxRoundLatency:              45 * time.Second,
	}
}

// LoadConfig reads a YAML config file on top of the defaults and then
// applies environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployments tune breaker and round settings
// without a config file edit.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ROUTER_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.FailureThreshold = n
		}
	}
	if v := os.Getenv("ROUTER_RECOVERY_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RecoveryTimeoutS = n
		}
	}
	if v := os.Getenv("ROUTER_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRounds = n
		}
	}
	if v := os.Getenv("ROUTER_MIN_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MinRounds = n
		}
	}
	if v := os.Getenv("ROUTER_EMA_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.EMAAlpha = f
		}
	}
}

// Validate rejects configurations that would break the consensus or
// breaker invariants.
func (c *Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.RecoveryTimeoutS < 1 {
		return fmt.Errorf("recovery_timeout_s must be >= 1, got %d", c.RecoveryTimeoutS)
	}
	if c.EMAAlpha <= 0 || c.EMAAlpha > 1 {
		return fmt.Errorf("ema_alpha must be in (0,1], got %f", c.EMAAlpha)
	}
	if c.MaxWeightCap <= 0 || c.MaxWeightCap > 1 {
		return fmt.Errorf("max_weight_cap must be in (0,1], got %f", c.MaxWeightCap)
	}
	if c.MinWeight < 0 || c.MinWeight >= c.MaxWeightCap {
		return fmt.Errorf("min_weight must be in [0, max_weight_cap), got %f", c.MinWeight)
	}
	if c.ConsensusConfidenceThreshold <= 0 || c.ConsensusConfidenceThreshold > 1 {
		return fmt.Errorf("consensus_confidence_threshold must be in (0,1], got %f", c.ConsensusConfidenceThreshold)
	}
	if c.MinRounds < 1 {
		return fmt.Errorf("min_rounds must be >= 1, got %d", c.MinRounds)
	}
	if c.MaxRounds < c.MinRounds {
		return fmt.Errorf("max_rounds (%d) must be >= min_rounds (%d)", c.MaxRounds, c.MinRounds)
	}
	for i, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("backend %d has empty id", i)
		}
		if b.Locality != LocalityLocal && b.Locality != LocalityRemote {
			return fmt.Errorf("backend %q has invalid locality %q", b.ID, b.Locality)
		}
	}
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent %d has empty id", i)
		}
	}
	return nil
}

// RecoveryTimeout returns the breaker recovery window as a duration.
func (c *Config) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutS) * time.Second
}
