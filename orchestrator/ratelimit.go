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
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/adrianlerer/SLM-Legal-ES-Research-sub000/shared/logger"
)

// RateLimiter enforces a per-client sliding-window request limit. With a
// Redis client it is distributed across router instances; without one it
// degrades to per-instance in-memory counting. Redis errors fail open:
// availability beats strict enforcement here.
type RateLimiter struct {
	client         *redis.Client
	limitPerMinute int
	logger         *logger.Logger

	mu     sync.Mutex
	local  map[string][]time.Time
	now    func() time.Time
}

// NewRateLimiter connects to redisURL when non-empty. Connection failures
// are logged and leave the limiter in memory-only mode.
func NewRateLimiter(redisURL string, limitPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		limitPerMinute: limitPerMinute,
		logger:         logger.New("RateLimiter"),
		local:          make(map[string][]time.Time),
		now:            time.Now,
	}

	if redisURL == "" {
		return rl
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		rl.logger.Warn("", "", "invalid redis URL, using in-memory rate limiting", map[string]interface{}{"error": err.Error()})
		return rl
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		rl.logger.Warn("", "", "redis unreachable, using in-memory rate limiting", map[string]interface{}{"error": err.Error()})
		return rl
	}

	rl.client = client
	return rl
}

// Allow reports whether the client may issue another request right now.
func (rl *RateLimiter) Allow(ctx context.Context, clientID string) error {
	if rl.limitPerMinute <= 0 {
		return nil
	}
	if rl.client != nil {
		return rl.allowRedis(ctx, clientID)
	}
	return rl.allowLocal(clientID)
}

func (rl *RateLimiter) allowRedis(ctx context.Context, clientID string) error {
	now := rl.now()
	key := fmt.Sprintf("router:ratelimit:%s", clientID)

	pipe := rl.client.Pipeline()
	minScore := now.Add(-time.Minute).Unix()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))
	pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*time.Minute)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		rl.logger.Warn("", "", "redis rate limit check failed, failing open", map[string]interface{}{
			"client_id": clientID,
			"error":     err.Error(),
		})
		return nil
	}

	count := cmds[1].(*redis.IntCmd).Val()
	if count >= int64(rl.limitPerMinute) {
		return fmt.Errorf("rate limit exceeded: %d requests/minute (limit %d)", count+1, rl.limitPerMinute)
	}
	return nil
}

func (rl *RateLimiter) allowLocal(clientID string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-time.Minute)

	kept := rl.local[clientID][:0]
	for _, t := range rl.local[clientID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= rl.limitPerMinute {
		rl.local[clientID] = kept
		return fmt.Errorf("rate limit exceeded: %d requests/minute (limit %d)", len(kept)+1, rl.limitPerMinute)
	}

	rl.local[clientID] = append(kept, now)
	return nil
}

// Close releases the Redis connection if one was established.
func (rl *RateLimiter) Close() error {
	if rl.client != nil {
		return rl.client.Close()
	}
	return nil
}
