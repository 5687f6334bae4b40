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
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/adrianlerer/SLM-Legal-ES-Research-sub000/orchestrator/invoker"
)

// citationPattern matches normative references in agent output: statute
// articles ("art. 1902", "artículo 24 CE"), court decisions
// ("STS 123/2020"), and bracketed source markers ("[3]").
var citationPattern = regexp.MustCompile(`(?i)\b(art\.?\s*\d+|artículo\s+\d+|STS\s+\d+/\d+|STC\s+\d+/\d+)|\[\d+\]`)

// Dispatcher fans one round of agent calls out concurrently and collects
// whatever resolved. Partial failure is tolerated; every outcome is
// reported to the health registry.
type Dispatcher struct {
	invokers map[string]invoker.Invoker
	registry *HealthRegistry

	callTimeout     time.Duration
	maxRoundLatency time.Duration
}

// NewDispatcher creates a dispatcher over the given invokers, keyed by
// backend ID.
func NewDispatcher(invokers map[string]invoker.Invoker, registry *HealthRegistry, cfg Config) *Dispatcher {
	return &Dispatcher{
		invokers:        invokers,
		registry:        registry,
		callTimeout:     cfg.AgentCallTimeout,
		maxRoundLatency: cfg.MaxRoundLatency,
	}
}

// DispatchRound concurrently invokes every agent against the selected
// backend. Each call is independently timeout-bounded; the round-level
// deadline cancels stragglers. The returned slice has one entry per
// agent, in agent order, and collection is order-independent.
func (d *Dispatcher) DispatchRound(ctx context.Context, round int, agents []AgentProfile, backend BackendDescriptor, req *InferenceRequest, maxTokens int) ([]AgentResponse, error) {
	inv, ok := d.invokers[backend.ID]
	if !ok {
		return nil, fmt.Errorf("no invoker registered for backend %q", backend.ID)
	}

	roundCtx := ctx
	var cancelRound context.CancelFunc
	if d.maxRoundLatency > 0 {
		roundCtx, cancelRound = context.WithTimeout(ctx, d.maxRoundLatency)
		defer cancelRound()
	}

	responses := make([]AgentResponse, len(agents))
	var wg sync.WaitGroup

	for i, agent := range agents {
		wg.Add(1)
		go func(idx int, a AgentProfile) {
			defer wg.Done()
			responses[idx] = d.invokeAgent(roundCtx, round, a, inv, backend, req, maxTokens)
		}(i, agent)
	}

	wg.Wait()

	succeeded := 0
	for i := range responses {
		if responses[i].OK() {
			succeeded++
		}
	}
	log.Printf("[Dispatcher] Round %d: %d/%d agents succeeded on backend %s",
		round, succeeded, len(agents), backend.ID)

	return responses, nil
}

// invokeAgent runs one agent call under its own timeout, classifies the
// outcome, and reports it to the health registry.
func (d *Dispatcher) invokeAgent(roundCtx context.Context, round int, agent AgentProfile, inv invoker.Invoker, backend BackendDescriptor, req *InferenceRequest, maxTokens int) AgentResponse {
	callCtx, cancel := context.WithTimeout(roundCtx, d.callTimeout)
	defer cancel()

	params := invoker.Params{
		SystemPrompt: agent.SystemPrompt,
		MaxTokens:    maxTokens,
		Temperature:  0.2,
	}

	start := time.Now()
	result, err := inv.Invoke(callCtx, req.Prompt, params)
	elapsed := time.Since(start)

	resp := AgentResponse{
		AgentID: agent.ID,
		Backend: backend.ID,
		Latency: elapsed,
	}

	if err != nil {
		resp.Err = err
		resp.ErrorText = err.Error()
		// A round-deadline cut counts as a breaker failure but is
		// excluded from stop-criteria quality numerators.
		if roundCtx.Err() != nil {
			resp.Cancelled = true
		} else if errors.Is(err, context.DeadlineExceeded) || isTimeoutErr(err) {
			resp.TimedOut = true
		}
		d.registry.RecordFailure(backend.ID)
		log.Printf("[Dispatcher] Round %d agent %s failed on %s after %s: %v",
			round, agent.ID, backend.ID, elapsed, err)
		return resp
	}

	resp.Text = result.Text
	resp.Tokens = result.Tokens
	resp.Cost = result.Cost
	resp.Citations = countCitations(result.Text)
	resp.EvidenceVerified = resp.Citations > 0
	resp.Confidence = deriveConfidence(result, resp.Citations)

	d.registry.RecordSuccess(backend.ID, CallOutcome{Latency: elapsed, Cost: result.Cost})
	return resp
}

func isTimeoutErr(err error) bool {
	var ie *invoker.InvokeError
	if errors.As(err, &ie) {
		return ie.Code == invoker.ErrCodeTimeout
	}
	return false
}

// countCitations counts normative references in the text.
func countCitations(text string) int {
	return len(citationPattern.FindAllString(text, -1))
}

// deriveConfidence prefers the backend-reported confidence and otherwise
// estimates one deterministically from response substance: length and
// citation support. The estimate is intentionally conservative.
func deriveConfidence(result *invoker.Result, citations int) float64 {
	if result.Confidence > 0 {
		return clamp01(result.Confidence)
	}

	words := len(strings.Fields(result.Text))
	conf := 0.4
	switch {
	case words >= 150:
		conf = 0.7
	case words >= 50:
		conf = 0.6
	case words >= 15:
		conf = 0.5
	}
	if citations > 0 {
		conf += 0.1
	}
	return clamp01(conf)
}
