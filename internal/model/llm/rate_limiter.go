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
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// LLMLimitConfig 单个 provider 的限流配置
type LLMLimitConfig struct {
	TokensPerMinute   int
	RequestsPerMinute float64
	MaxConcurrent     int
}

// LLMRateLimiter 按 provider 维度做请求数、token 预算与并发控制
type LLMRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*llmLimiter
	defaults LLMLimitConfig
}

type llmLimiter struct {
	requests  *rate.Limiter
	tokens    *rate.Limiter
	semaphore chan struct{}
	config    LLMLimitConfig
}

// DefaultLLMLimitConfig 未单独配置的 provider 使用
func DefaultLLMLimitConfig() LLMLimitConfig {
	return LLMLimitConfig{
		TokensPerMinute:   90000,
		RequestsPerMinute: 600,
		MaxConcurrent:     8,
	}
}

// NewLLMRateLimiter 创建限流器；defaults 为 nil 时使用 DefaultLLMLimitConfig
func NewLLMRateLimiter(configs map[string]LLMLimitConfig, defaults *LLMLimitConfig) *LLMRateLimiter {
	d := DefaultLLMLimitConfig()
	if defaults != nil {
		d = *defaults
	}
	l := &LLMRateLimiter{limiters: make(map[string]*llmLimiter), defaults: d}
	for provider, cfg := range configs {
		l.limiters[provider] = newLLMLimiter(cfg)
	}
	return l
}

func newLLMLimiter(cfg LLMLimitConfig) *llmLimiter {
	lim := &llmLimiter{config: cfg}
	// burst 取 2 秒配额
	if cfg.RequestsPerMinute > 0 {
		burst := int(cfg.RequestsPerMinute / 30)
		if burst < 1 {
			burst = 1
		}
		lim.requests = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), burst)
	}
	if cfg.TokensPerMinute > 0 {
		burst := cfg.TokensPerMinute / 30
		if burst < 1 {
			burst = 1
		}
		lim.tokens = rate.NewLimiter(rate.Limit(float64(cfg.TokensPerMinute)/60.0), burst)
	}
	if cfg.MaxConcurrent > 0 {
		lim.semaphore = make(chan struct{}, cfg.MaxConcurrent)
	}
	return lim
}

func (l *LLMRateLimiter) limiter(provider string) *llmLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[provider]
	if !ok {
		lim = newLLMLimiter(l.defaults)
		l.limiters[provider] = lim
	}
	return lim
}

// Wait 阻塞直到获得执行许可；成功后必须调用 Release
func (l *LLMRateLimiter) Wait(ctx context.Context, provider string, estimatedTokens int) error {
	lim := l.limiter(provider)

	if lim.requests != nil {
		if err := lim.requests.Wait(ctx); err != nil {
			return fmt.Errorf("request rate limit wait failed: %w", err)
		}
	}

	if lim.tokens != nil && estimatedTokens > 0 {
		// WaitN 超过 burst 会直接报错
		n := estimatedTokens
		if b := lim.tokens.Burst(); n > b {
			n = b
		}
		if err := lim.tokens.WaitN(ctx, n); err != nil {
			return fmt.Errorf("token budget wait failed: %w", err)
		}
	}

	if lim.semaphore != nil {
		select {
		case lim.semaphore <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Release 释放并发 slot
func (l *LLMRateLimiter) Release(provider string) {
	lim := l.limiter(provider)
	if lim.semaphore == nil {
		return
	}
	select {
	case <-lim.semaphore:
	default:
	}
}

// InFlight 当前占用的并发 slot 数
func (l *LLMRateLimiter) InFlight(provider string) int {
	lim := l.limiter(provider)
	if lim.semaphore == nil {
		return 0
	}
	return len(lim.semaphore)
}
