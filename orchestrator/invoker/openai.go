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
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIInvoker executes inference against the OpenAI API. It is a remote
// backend: confidential matters must never route here, which the routing
// engine enforces via the backend descriptor's confidentiality ceiling.
type OpenAIInvoker struct {
	name         string
	client       *openai.Client
	model        string
	costPerToken float64
	retry        RetryConfig
}

// NewOpenAIInvoker creates an invoker backed by the OpenAI API.
func NewOpenAIInvoker(name, apiKey, model string, costPerToken float64) *OpenAIInvoker {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIInvoker{
		name:         name,
		client:       openai.NewClient(apiKey),
		model:        model,
		costPerToken: costPerToken,
		retry:        DefaultRetryConfig(),
	}
}

// Name returns the backend ID this invoker serves.
func (o *OpenAIInvoker) Name() string { return o.name }

// Invoke runs a chat completion with retry on transient failures.
func (o *OpenAIInvoker) Invoke(ctx context.Context, prompt string, p Params) (*Result, error) {
	model := p.Model
	if model == "" {
		model = o.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if p.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: p.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	start := time.Now()
	resp, err := RetryWithBackoff(ctx, o.retry, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       model,
			Messages:    messages,
			MaxTokens:   p.MaxTokens,
			Temperature: float32(p.Temperature),
		})
		if err != nil {
			return resp, classifyOpenAIError(o.name, err)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, NewInvokeError(o.name, ErrCodeServerError, "empty choices in response", nil)
	}

	tokens := resp.Usage.TotalTokens
	return &Result{
		Text:    resp.Choices[0].Message.Content,
		Tokens:  tokens,
		Latency: time.Since(start),
		Cost:    float64(tokens) * o.costPerToken,
	}, nil
}

// classifyOpenAIError maps API errors onto the shared taxonomy.
func classifyOpenAIError(backend string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return NewInvokeError(backend, ErrCodeRateLimit, apiErr.Message, err)
		case apiErr.HTTPStatusCode >= 500:
			return NewInvokeError(backend, ErrCodeServerError, apiErr.Message, err)
		case apiErr.HTTPStatusCode >= 400:
			return NewInvokeError(backend, ErrCodeBadRequest, apiErr.Message, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewInvokeError(backend, ErrCodeTimeout, "request deadline exceeded", err)
	}
	return NewInvokeError(backend, ErrCodeUnavailable, fmt.Sprintf("request failed: %v", err), err)
}
