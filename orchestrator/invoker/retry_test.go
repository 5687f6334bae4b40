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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.Jitter = 0
	return cfg
}

func TestRetryWithBackoffSucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	result, err := RetryWithBackoff(context.Background(), fastRetryConfig(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewInvokeError("b", ErrCodeServerError, "overloaded", nil)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoffStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), fastRetryConfig(), func(ctx context.Context) (string, error) {
		calls++
		return "", NewInvokeError("b", ErrCodeBadRequest, "malformed prompt", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors must not be retried")
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), fastRetryConfig(), func(ctx context.Context) (string, error) {
		calls++
		return "", NewInvokeError("b", ErrCodeRateLimit, "slow down", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
}

func TestRetryWithBackoffHonorsContextCancellation(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.InitialBackoff = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := RetryWithBackoff(ctx, cfg, func(ctx context.Context) (string, error) {
		return "", NewInvokeError("b", ErrCodeServerError, "boom", nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", NewInvokeError("b", ErrCodeTimeout, "", nil), true},
		{"rate limit", NewInvokeError("b", ErrCodeRateLimit, "", nil), true},
		{"server error", NewInvokeError("b", ErrCodeServerError, "", nil), true},
		{"bad request", NewInvokeError("b", ErrCodeBadRequest, "", nil), false},
		{"context deadline", context.DeadlineExceeded, true},
		{"plain error", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultRetryable(tt.err))
		})
	}
}

func TestMockInvokerScript(t *testing.T) {
	mock := NewMockInvoker("b",
		MockResponse{Text: "primera", Confidence: 0.6},
		MockResponse{Err: fmt.Errorf("fallo")},
	)

	first, err := mock.Invoke(context.Background(), "p", Params{})
	require.NoError(t, err)
	assert.Equal(t, "primera", first.Text)

	_, err = mock.Invoke(context.Background(), "p", Params{})
	require.Error(t, err)

	// The last scripted response repeats.
	_, err = mock.Invoke(context.Background(), "p", Params{})
	require.Error(t, err)
	assert.Equal(t, 3, mock.Calls())
}
