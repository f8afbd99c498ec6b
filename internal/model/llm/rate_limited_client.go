// Copyright 2026 fanjia1024
//
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

package llm

import (
	"context"
	"time"

	"research-agent/pkg/metrics"
)

// RateLimitedClient 在真实调用前执行限流。rateLimiter 为 nil 时直接调用
type RateLimitedClient struct {
	inner       Client
	rateLimiter *LLMRateLimiter
}

// NewRateLimitedClient 创建带限流的客户端
func NewRateLimitedClient(inner Client, rateLimiter *LLMRateLimiter) *RateLimitedClient {
	return &RateLimitedClient{inner: inner, rateLimiter: rateLimiter}
}

// Generate 实现 Client.Generate
func (c *RateLimitedClient) Generate(ctx context.Context, prompt string, options GenerateOptions) (string, error) {
	if c.rateLimiter != nil {
		provider := c.inner.Provider()
		start := time.Now()
		if err := c.rateLimiter.Wait(ctx, provider, estimateTokens(prompt, options.MaxTokens)); err != nil {
			return "", err
		}
		metrics.RateLimitWaitSeconds.WithLabelValues("llm", provider).Observe(time.Since(start).Seconds())
		defer c.rateLimiter.Release(provider)
	}
	return c.inner.Generate(ctx, prompt, options)
}

// Model 返回底层 Client 的模型名称
func (c *RateLimitedClient) Model() string { return c.inner.Model() }

// Provider 返回底层 Client 的提供商名称
func (c *RateLimitedClient) Provider() string { return c.inner.Provider() }

// estimateTokens 粗略估算 token 数（4 字符约 1 token）
func estimateTokens(text string, maxTokens int) int {
	estimated := len(text) / 4
	if maxTokens > 0 {
		estimated += maxTokens
	}
	if estimated < 1 {
		estimated = 1
	}
	return estimated
}
