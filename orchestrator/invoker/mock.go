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
	"sync"
	"time"
)

// MockResponse scripts one reply from a MockInvoker.
type MockResponse struct {
	Text       string
	Confidence float64
	Tokens     int
	Cost       float64
	Delay      time.Duration
	Err        error
}

// MockInvoker is a scriptable invoker for tests. Responses are consumed
// in order; the last one repeats once the script is exhausted.
type MockInvoker struct {
	mu        sync.Mutex
	name      string
	responses []MockResponse
	calls     int
}

// NewMockInvoker creates a mock serving the given backend ID.
func NewMockInvoker(name string, responses ...MockResponse) *MockInvoker {
	return &MockInvoker{name: name, responses: responses}
}

// Name returns the backend ID this invoker serves.
func (m *MockInvoker) Name() string { return m.name }

// Calls returns how many times Invoke has been called.
func (m *MockInvoker) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Invoke returns the next scripted response, honoring its delay and the
// context deadline.
func (m *MockInvoker) Invoke(ctx context.Context, prompt string, p Params) (*Result, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	if idx < 0 {
		m.mu.Unlock()
		return &Result{Text: "mock response", Tokens: 10, Confidence: 0.8}, nil
	}
	resp := m.responses[idx]
	m.mu.Unlock()

	if resp.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, NewInvokeError(m.name, ErrCodeTimeout, "mock call cancelled", ctx.Err())
		case <-time.After(resp.Delay):
		}
	}

	if resp.Err != nil {
		return nil, resp.Err
	}

	tokens := resp.Tokens
	if tokens == 0 {
		tokens = len(resp.Text) / 4
	}
	return &Result{
		Text:       resp.Text,
		Tokens:     tokens,
		Latency:    resp.Delay,
		Cost:       resp.Cost,
		Confidence: resp.Confidence,
	}, nil
}
