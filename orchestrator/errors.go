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
	"fmt"
)

// Sentinel errors for expected routing and dispatch failure states. They
// are surfaced as typed results where the contract requires it; only
// unexpected internal faults propagate as bare errors.
var (
	// ErrNoBackendAvailable is returned when every candidate backend was
	// gated out by confidentiality or has an open circuit breaker.
	ErrNoBackendAvailable = errors.New("no backend available")

	// ErrAllAgentsFailed is returned when a full round plus the fallback
	// retry produced no usable responses.
	ErrAllAgentsFailed = errors.New("all agents failed")

	// ErrConsensusComputation signals a malformed feature vector. The
	// consensus engine recovers with uniform-weight averaging.
	ErrConsensusComputation = errors.New("consensus computation failed")
)

// ConfidentialityViolationError is a fatal pre-dispatch rejection: the
// request's confidentiality level exceeds what any configured backend is
// approved to serve.
type ConfidentialityViolationError struct {
	Level    ConfidentialityLevel
	Backend  string // set when an explicit preference caused the check
	Required ConfidentialityLevel
}

func (e *ConfidentialityViolationError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("confidentiality violation: backend %q is not approved for level %s", e.Backend, e.Level)
	}
	return fmt.Sprintf("confidentiality violation: no configured backend is approved for level %s", e.Level)
}

// NoBackendAvailableError wraps ErrNoBackendAvailable with the decision
// trace so callers can see why every candidate was rejected.
type NoBackendAvailableError struct {
	Reasoning []string
}

func (e *NoBackendAvailableError) Error() string {
	return fmt.Sprintf("no backend available (%d candidates rejected)", len(e.Reasoning))
}

func (e *NoBackendAvailableError) Unwrap() error { return ErrNoBackendAvailable }

// AllAgentsFailedError carries the attempted-action trail across the
// failed round and the fallback retry.
type AllAgentsFailedError struct {
	Round         int
	Attempts      []string
	CorrelationID string
}

func (e *AllAgentsFailedError) Error() string {
	return fmt.Sprintf("all agents failed in round %d after %d attempts (correlation_id=%s)",
		e.Round, len(e.Attempts), e.CorrelationID)
}

func (e *AllAgentsFailedError) Unwrap() error { return ErrAllAgentsFailed }

// InternalError tags truly unexpected faults with a correlation id before
// they propagate to the caller.
type InternalError struct {
	CorrelationID string
	Cause         error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error (correlation_id=%s): %v", e.CorrelationID, e.Cause)
}

func (e *InternalError) Unwrap() error { return e.Cause }
