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
	"time"

	"github.com/google/uuid"

	"github.com/adrianlerer/SLM-Legal-ES-Research-sub000/orchestrator/invoker"
	"github.com/adrianlerer/SLM-Legal-ES-Research-sub000/shared/logger"
)

const (
	defaultMaxTokens      = 1024
	fallbackMinTokens     = 256
	fallbackTokensDivisor = 2
)

// AuditSink receives every finalized consensus result. Implementations
// must not block the request path for long; emit errors are logged and
// swallowed.
type AuditSink interface {
	Emit(ctx context.Context, req *InferenceRequest, res *ConsensusResult) error
}

// DomainClassifier optionally tags a request with a legal domain hint
// before routing. A nil classifier is skipped.
type DomainClassifier interface {
	Classify(prompt string) string
}

// OrchestrationController owns the full request lifecycle: routing,
// round-based agent dispatch, stop-condition evaluation, consensus
// finalization and audit emission.
type OrchestrationController struct {
	cfg        Config
	registry   *HealthRegistry
	router     *RoutingEngine
	dispatcher *Dispatcher
	consensus  *ConsensusEngine

	backends   map[string]BackendDescriptor
	classifier DomainClassifier
	audit      AuditSink
	metrics    *Metrics
	logger     *logger.Logger
}

// ControllerOption customizes controller construction.
type ControllerOption func(*OrchestrationController)

// WithWeightingStrategy replaces the default heuristic consensus
// weighting.
func WithWeightingStrategy(s WeightingStrategy) ControllerOption {
	return func(c *OrchestrationController) {
		c.consensus = NewConsensusEngine(&c.cfg, s)
	}
}

// WithAuditSink attaches an audit collaborator.
func WithAuditSink(sink AuditSink) ControllerOption {
	return func(c *OrchestrationController) { c.audit = sink }
}

// WithDomainClassifier attaches a pre-routing domain classifier.
func WithDomainClassifier(dc DomainClassifier) ControllerOption {
	return func(c *OrchestrationController) { c.classifier = dc }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) ControllerOption {
	return func(c *OrchestrationController) { c.metrics = m }
}

// NewController wires the registry, router, dispatcher and consensus
// engine from one Config plus the per-backend invokers.
func NewController(cfg Config, invokers map[string]invoker.Invoker, opts ...ControllerOption) (*OrchestrationController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := NewHealthRegistry(cfg)
	c := &OrchestrationController{
		cfg:        cfg,
		registry:   registry,
		router:     NewRoutingEngine(cfg.Backends, registry),
		dispatcher: NewDispatcher(invokers, registry, cfg),
		consensus:  NewConsensusEngine(&cfg, nil),
		backends:   make(map[string]BackendDescriptor, len(cfg.Backends)),
		logger:     logger.New("OrchestrationController"),
	}
	for _, b := range cfg.Backends {
		c.backends[b.ID] = b
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Registry exposes the health registry for status endpoints.
func (c *OrchestrationController) Registry() *HealthRegistry { return c.registry }

// Config returns a copy of the active configuration.
func (c *OrchestrationController) Config() Config { return c.cfg }

// RouteAndConsense runs the full pipeline for one request.
//
// Expected degraded outcomes (all agents failed after the fallback
// retry) come back as a typed no-consensus result with a nil error.
// Confidentiality violations and full backend unavailability come back
// as typed Go errors.
func (c *OrchestrationController) RouteAndConsense(ctx context.Context, req *InferenceRequest) (*ConsensusResult, error) {
	start := time.Now()

	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}
	if req.DomainHint == "" && c.classifier != nil {
		req.DomainHint = c.classifier.Classify(req.Prompt)
	}

	c.logger.Info(req.ClientID, req.RequestID, "request accepted", map[string]interface{}{
		"confidentiality": req.Confidentiality.String(),
		"priority":        string(req.Priority),
		"domain_hint":     req.DomainHint,
	})

	result, err := c.deliberate(ctx, req)
	if err != nil {
		c.observe(start, req, nil, err)
		return nil, err
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	c.emitAudit(ctx, req, result)
	c.observe(start, req, result, nil)
	return result, nil
}

// deliberate runs the round loop and returns the finalized consensus.
func (c *OrchestrationController) deliberate(ctx context.Context, req *InferenceRequest) (*ConsensusResult, error) {
	var (
		lastSuccesses []AgentResponse
		lastDecision  *RoutingDecision
		fallbackUsed  bool
		rounds        int
	)

	for round := 1; round <= c.cfg.MaxRounds; round++ {
		// Route fresh every round so breaker transitions between
		// rounds are honored.
		decision, err := c.router.Decide(req, c.cfg.Agents)
		if err != nil {
			var violation *ConfidentialityViolationError
			if errors.As(err, &violation) {
				return nil, err
			}
			if errors.Is(err, ErrNoBackendAvailable) {
				// Mid-deliberation unavailability: finalize with what
				// earlier rounds produced rather than dropping it.
				if len(lastSuccesses) > 0 {
					break
				}
				return nil, err
			}
			return nil, &InternalError{CorrelationID: uuid.New().String(), Cause: err}
		}
		lastDecision = decision
		rounds = round
		if c.metrics != nil {
			c.metrics.RoutingDecisions.WithLabelValues(decision.SelectedBackend).Inc()
		}

		backend := c.backends[decision.SelectedBackend]
		responses, err := c.dispatcher.DispatchRound(ctx, round, c.cfg.Agents, backend, req, c.roundTokens(req, backend))
		if err != nil {
			return nil, err
		}

		successes := successful(responses)
		if len(successes) == 0 {
			if c.metrics != nil {
				c.metrics.BackendFailures.WithLabelValues(backend.ID).Inc()
			}
			if !fallbackUsed {
				fallbackUsed = true
				retried, retryErr := c.fallbackRetry(ctx, round, req)
				if retryErr == nil && len(retried) > 0 {
					lastSuccesses = retried
					break
				}
			}
			if len(lastSuccesses) > 0 {
				break
			}
			return c.allFailed(req, lastDecision, round), nil
		}

		lastSuccesses = successes
		if c.stopConditionMet(round, successes) {
			break
		}
	}

	result := c.consensus.Aggregate(req.RequestID, lastSuccesses)
	result.Rounds = rounds
	result.RoutingDecision = lastDecision
	return result, nil
}

// stopConditionMet evaluates the per-round stop criteria. All quality
// terms are computed over successful responses only.
func (c *OrchestrationController) stopConditionMet(round int, successes []AgentResponse) bool {
	if round < c.cfg.MinRounds {
		return false
	}

	agreement := agreeingRatio(successes)

	var confSum float64
	evidence := 0
	for _, r := range successes {
		confSum += r.Confidence
		if r.EvidenceVerified {
			evidence++
		}
	}
	meanConf := confSum / float64(len(successes))
	evidenceRatio := float64(evidence) / float64(len(successes))

	met := agreement >= c.cfg.AgreementThreshold &&
		meanConf >= c.cfg.MeanConfidenceThreshold &&
		evidenceRatio >= c.cfg.EvidenceThreshold

	c.logger.Debug("", "", "stop condition evaluated", map[string]interface{}{
		"round":          round,
		"agreement":      agreement,
		"mean_conf":      meanConf,
		"evidence_ratio": evidenceRatio,
		"met":            met,
	})
	return met
}

// fallbackRetry reruns the round once on a local backend with a reduced
// token budget after a fully failed round.
func (c *OrchestrationController) fallbackRetry(ctx context.Context, round int, req *InferenceRequest) ([]AgentResponse, error) {
	backend, ok := c.localFallback(req)
	if !ok {
		return nil, ErrNoBackendAvailable
	}

	tokens := req.MaxTokens / fallbackTokensDivisor
	if tokens < fallbackMinTokens {
		tokens = fallbackMinTokens
	}
	if backend.MaxTokens > 0 && tokens > backend.MaxTokens {
		tokens = backend.MaxTokens
	}

	c.logger.Warn(req.ClientID, req.RequestID, "round fully failed, retrying on local fallback", map[string]interface{}{
		"round":   round,
		"backend": backend.ID,
		"tokens":  tokens,
	})

	responses, err := c.dispatcher.DispatchRound(ctx, round, c.cfg.Agents, backend, req, tokens)
	if err != nil {
		return nil, err
	}
	return successful(responses), nil
}

// localFallback picks the first local backend that clears the
// confidentiality gate and whose breaker admits calls.
func (c *OrchestrationController) localFallback(req *InferenceRequest) (BackendDescriptor, bool) {
	for _, b := range c.cfg.Backends {
		if b.Locality != LocalityLocal {
			continue
		}
		if b.MaxConfidentiality < req.Confidentiality {
			continue
		}
		if !c.registry.CanExecute(b.ID) {
			continue
		}
		return b, true
	}
	return BackendDescriptor{}, false
}

// allFailed builds the typed no-consensus result for a request whose
// every agent call failed even after the fallback retry.
func (c *OrchestrationController) allFailed(req *InferenceRequest, decision *RoutingDecision, round int) *ConsensusResult {
	attempts := make([]string, 0, len(c.cfg.Agents))
	for _, a := range c.cfg.Agents {
		attempts = append(attempts, a.ID)
	}
	failure := &AllAgentsFailedError{
		Round:         round,
		Attempts:      attempts,
		CorrelationID: uuid.New().String(),
	}
	c.logger.ErrorWithErr(req.ClientID, req.RequestID, "all agents failed, no consensus", failure, map[string]interface{}{
		"round": round,
	})

	result := c.consensus.noConsensus(req.RequestID, failure.Error())
	result.Rounds = round
	result.RoutingDecision = decision
	return result
}

func (c *OrchestrationController) roundTokens(req *InferenceRequest, backend BackendDescriptor) int {
	tokens := req.MaxTokens
	if backend.MaxTokens > 0 && tokens > backend.MaxTokens {
		tokens = backend.MaxTokens
	}
	return tokens
}

func (c *OrchestrationController) emitAudit(ctx context.Context, req *InferenceRequest, result *ConsensusResult) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Emit(ctx, req, result); err != nil {
		c.logger.ErrorWithErr(req.ClientID, req.RequestID, "audit emit failed", err, nil)
	}
}

func (c *OrchestrationController) observe(start time.Time, req *InferenceRequest, result *ConsensusResult, err error) {
	if c.metrics == nil {
		return
	}

	status := "ok"
	switch {
	case err != nil:
		var violation *ConfidentialityViolationError
		switch {
		case errors.As(err, &violation):
			status = "confidentiality_violation"
		case errors.Is(err, ErrNoBackendAvailable):
			status = "no_backend"
		default:
			status = "error"
		}
	case result != nil && result.NoConsensus:
		status = "no_consensus"
	}
	c.metrics.RequestsTotal.WithLabelValues(status).Inc()
	c.metrics.RequestDurationMs.Observe(float64(time.Since(start).Milliseconds()))

	if result != nil {
		c.metrics.RoundsPerRequest.Observe(float64(result.Rounds))
		c.metrics.ConsensusScore.Observe(result.Confidence)
	}
	c.metrics.ObserveBreakers(c.registry.Snapshots())
}

// successful filters a round's responses down to the usable ones.
func successful(responses []AgentResponse) []AgentResponse {
	out := make([]AgentResponse, 0, len(responses))
	for _, r := range responses {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}
