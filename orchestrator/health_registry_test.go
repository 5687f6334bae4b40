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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistryConfig() Config {
	cfg := DefaultConfig()
	cfg.Backends = []BackendDescriptor{
		{ID: "local-slm", Locality: LocalityLocal, ExpectedLatencyMs: 2000, MaxConfidentiality: ConfidentialityMaximumSecurity, MaxTokens: 4096},
		{ID: "remote-llm", Locality: LocalityRemote, CostPerToken: 0.00002, ExpectedLatencyMs: 800, MaxConfidentiality: ConfidentialityConfidential, MaxTokens: 8192},
	}
	return cfg
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	reg := NewHealthRegistry(testRegistryConfig())

	for i := 0; i < 4; i++ {
		reg.RecordFailure("remote-llm")
	}
	assert.True(t, reg.CanExecute("remote-llm"), "breaker must stay closed below the threshold")
	assert.Equal(t, BreakerClosed, reg.Snapshot("remote-llm").State)

	reg.RecordFailure("remote-llm")
	assert.False(t, reg.CanExecute("remote-llm"), "breaker must open at the threshold")
	assert.Equal(t, BreakerOpen, reg.Snapshot("remote-llm").State)
}

func TestBreakerRecoveryProbeCycle(t *testing.T) {
	reg := NewHealthRegistry(testRegistryConfig())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	reg.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		reg.RecordFailure("remote-llm")
	}
	require.Equal(t, BreakerOpen, reg.Snapshot("remote-llm").State)

	now = base.Add(59 * time.Second)
	assert.False(t, reg.CanExecute("remote-llm"), "recovery window has not elapsed")

	now = base.Add(61 * time.Second)
	assert.True(t, reg.CanExecute("remote-llm"), "probe must be admitted after the recovery timeout")
	assert.Equal(t, BreakerHalfOpen, reg.Snapshot("remote-llm").State)

	reg.RecordSuccess("remote-llm", CallOutcome{Latency: 700 * time.Millisecond})
	assert.Equal(t, BreakerClosed, reg.Snapshot("remote-llm").State)
	assert.True(t, reg.CanExecute("remote-llm"))
	assert.Equal(t, 0, reg.Snapshot("remote-llm").ConsecutiveFailures)
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	reg := NewHealthRegistry(testRegistryConfig())

	base := time.Now()
	now := base
	reg.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		reg.RecordFailure("local-slm")
	}
	now = base.Add(2 * time.Minute)
	require.True(t, reg.CanExecute("local-slm"))
	require.Equal(t, BreakerHalfOpen, reg.Snapshot("local-slm").State)

	reg.RecordFailure("local-slm")
	assert.Equal(t, BreakerOpen, reg.Snapshot("local-slm").State)
	assert.False(t, reg.CanExecute("local-slm"))
}

func TestEMATracking(t *testing.T) {
	reg := NewHealthRegistry(testRegistryConfig())

	t.Run("availability decays on failure", func(t *testing.T) {
		reg.RecordFailure("remote-llm")
		snap := reg.Snapshot("remote-llm")
		// alpha 0.1 over the 1.0 seed: 0.1*0 + 0.9*1.0
		assert.InDelta(t, 0.9, snap.Availability, 1e-9)
	})

	t.Run("latency folds toward observed samples", func(t *testing.T) {
		reg.RecordSuccess("remote-llm", CallOutcome{Latency: 1800 * time.Millisecond, Cost: 0.04})
		snap := reg.Snapshot("remote-llm")
		// seeded with the descriptor's 800ms expectation
		assert.InDelta(t, 0.1*1800+0.9*800, snap.AvgLatencyMs, 1e-9)
	})

	t.Run("repeated failures converge availability toward zero", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			reg.RecordFailure("local-slm")
		}
		snap := reg.Snapshot("local-slm")
		assert.Less(t, snap.Availability, 0.01)
		assert.False(t, math.IsNaN(snap.Availability))
	})
}

func TestUnknownBackendStartsClosed(t *testing.T) {
	reg := NewHealthRegistry(testRegistryConfig())

	assert.True(t, reg.CanExecute("never-configured"))
	snap := reg.Snapshot("never-configured")
	assert.Equal(t, BreakerClosed, snap.State)
	assert.Equal(t, 1.0, snap.Availability)
}

func TestSnapshotsCoverAllBackends(t *testing.T) {
	reg := NewHealthRegistry(testRegistryConfig())
	reg.RecordFailure("remote-llm")

	snaps := reg.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, int64(1), snaps["remote-llm"].TotalFailures)
	assert.Equal(t, int64(0), snaps["local-slm"].TotalFailures)
}
