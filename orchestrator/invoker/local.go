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

package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// LocalInvoker executes inference against an on-premises Ollama-style
// HTTP endpoint. Local backends are the only ones approved for the
// highest confidentiality tiers.
type LocalInvoker struct {
	name       string
	endpoint   string
	model      string
	httpClient *http.Client
}

// NewLocalInvoker creates an invoker for a local inference endpoint.
func NewLocalInvoker(name, endpoint, model string) *LocalInvoker {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1:8b"
	}
	return &LocalInvoker{
		name:     name,
		endpoint: endpoint,
		model:    model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Name returns the backend ID this invoker serves.
func (l *LocalInvoker) Name() string { return l.name }

type localGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type localGenerateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Done            bool   `json:"done"`
}

// Invoke runs the prompt against the local endpoint. Local calls carry
// zero marginal cost.
func (l *LocalInvoker) Invoke(ctx context.Context, prompt string, p Params) (*Result, error) {
	model := p.Model
	if model == "" {
		model = l.model
	}

	reqBody := localGenerateRequest{
		Model:  model,
		Prompt: prompt,
		System: p.SystemPrompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": p.Temperature,
		},
	}
	if p.MaxTokens > 0 {
		reqBody.Options["num_predict"] = p.MaxTokens
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := l.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, NewInvokeError(l.name, ErrCodeTimeout, "local inference timed out", err)
		}
		return nil, NewInvokeError(l.name, ErrCodeUnavailable, fmt.Sprintf("local endpoint unreachable: %v", err), err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		code := ErrCodeServerError
		if httpResp.StatusCode == http.StatusTooManyRequests {
			code = ErrCodeRateLimit
		}
		return nil, NewInvokeError(l.name, code,
			fmt.Sprintf("local endpoint returned %d: %s", httpResp.StatusCode, string(body)), nil)
	}

	var parsed localGenerateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode local response: %w", err)
	}

	return &Result{
		Text:    parsed.Response,
		Tokens:  parsed.PromptEvalCount + parsed.EvalCount,
		Latency: time.Since(start),
		Cost:    0,
	}, nil
}
