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

// Package invoker defines the backend invocation contract consumed by the
// dispatcher and ships pluggable implementations. The routing core never
// executes model inference itself; it calls out through this interface.
package invoker

import (
	"context"
	"fmt"
	"time"
)

// Params carries the per-call generation parameters.
type Params struct {
	// Model overrides the invoker's default model when non-empty.
	Model string

	// SystemPrompt frames the agent's role.
	SystemPrompt string

	// MaxTokens bounds the completion length. 0 uses the invoker default.
	MaxTokens int

	// Temperature controls sampling randomness.
	Temperature float64
}

// Result is the outcome of one backend invocation.
type Result struct {
	Text    string
	Tokens  int
	Latency time.Duration
	Cost    float64

	// Confidence is an optional backend-reported quality signal in
	// [0,1]. 0 means unreported; callers derive their own estimate.
	Confidence float64
}

// Invoker executes a single inference call against one backend.
// Implementations must be safe for concurrent use.
type Invoker interface {
	// Name returns the backend ID this invoker serves.
	Name() string

	// Invoke runs the prompt and returns the completion. The context
	// bounds the call; implementations must honor cancellation.
	Invoke(ctx context.Context, prompt string, p Params) (*Result, error)
}

// InvokeError wraps a backend failure with enough detail to classify it.
type InvokeError struct {
	Backend   string
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("%s invoke error (%s): %s", e.Backend, e.Code, e.Message)
}

func (e *InvokeError) Unwrap() error { return e.Cause }

// Error codes shared across implementations.
const (
	ErrCodeTimeout     = "timeout"
	ErrCodeRateLimit   = "rate_limit"
	ErrCodeServerError = "server_error"
	ErrCodeBadRequest  = "invalid_request"
	ErrCodeUnavailable = "unavailable"
)

// NewInvokeError builds an InvokeError, deriving retryability from the code.
func NewInvokeError(backend, code, message string, cause error) *InvokeError {
	retryable := false
	switch code {
	case ErrCodeTimeout, ErrCodeRateLimit, ErrCodeServerError, ErrCodeUnavailable:
		retryable = true
	}
	return &InvokeError{
		Backend:   backend,
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}
