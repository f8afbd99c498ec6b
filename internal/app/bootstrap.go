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

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"research-agent/internal/agent/memory"
	"research-agent/internal/agent/research"
	"research-agent/internal/model/llm"
	"research-agent/internal/search"
	"research-agent/internal/storage/cache"
	"research-agent/pkg/config"
	"research-agent/pkg/log"
	"research-agent/pkg/secrets"
)

// Bootstrap 进程级依赖：配置、日志与已装配好的研究代理
type Bootstrap struct {
	Config    *config.Config
	Logger    *log.Logger
	Generator llm.Client
	Searcher  research.Searcher
	Memory    memory.Store
	Cache     cache.Store
	Agent     *research.Agent

	closers []io.Closer
}

// Collaborators 可替换的外部协作方，测试时注入；为零值的字段按配置创建
type Collaborators struct {
	Generator llm.Client
	Searcher  research.Searcher
	Memory    memory.Store
}

// NewBootstrap 按配置装配全部依赖；生成器凭证缺失时返回 ErrMissingCredential
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	return NewBootstrapWith(ctx, cfg, Collaborators{})
}

// NewBootstrapWith 与 NewBootstrap 相同，但优先使用 c 中已给出的协作方
func NewBootstrapWith(ctx context.Context, cfg *config.Config, c Collaborators) (*Bootstrap, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	b := &Bootstrap{Config: cfg, Logger: logger}

	b.Generator = c.Generator
	if b.Generator == nil {
		if b.Generator, err = newGenerator(ctx, cfg); err != nil {
			return nil, err
		}
	}

	b.Cache, err = cache.NewStore(cfg.Storage.Cache)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存失败: %w", err)
	}
	b.closers = append(b.closers, b.Cache)

	searcher := c.Searcher
	if searcher == nil {
		if searcher, err = newSearcher(ctx, cfg); err != nil {
			b.Close()
			return nil, err
		}
	}
	if cfg.Search.CacheTTL > 0 {
		searcher = research.NewCachedSearcher(searcher, b.Cache, cfg.Search.CacheTTL, logger.With("component", "search_cache"))
	}
	b.Searcher = searcher

	b.Memory = c.Memory
	if b.Memory == nil {
		b.Memory, err = memory.NewStore(ctx, memory.Config{
			Type: cfg.Storage.Memory.Type,
			URL:  cfg.Storage.Memory.URL,
		}, nil)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("初始化记忆存储失败: %w", err)
		}
		if closer, ok := b.Memory.(io.Closer); ok {
			b.closers = append(b.closers, closer)
		}
	}

	b.Agent, err = research.New(research.Options{
		Config:    cfg.Research,
		Generator: b.Generator,
		Searcher:  b.Searcher,
		Memory:    b.Memory,
		Logger:    logger.With("component", "research"),
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("初始化研究代理失败: %w", err)
	}
	logger.Info("bootstrap done",
		"generator", b.Generator.Provider(),
		"memory_store", cfg.Storage.Memory.Type,
		"cache", cfg.Storage.Cache.Type)
	return b, nil
}

// Close 释放存储连接
func (b *Bootstrap) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func secretStore(cfg *config.Config) (secrets.Store, error) {
	store, err := secrets.NewStore(secrets.Config{
		Provider: cfg.Secrets.Provider,
		Config:   cfg.Secrets.Config,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化凭证存储失败: %w", err)
	}
	return store, nil
}

// newGenerator 解析 API key 并创建带限流的生成器
func newGenerator(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	store, err := secretStore(cfg)
	if err != nil {
		return nil, err
	}
	apiKey, err := secrets.Resolve(ctx, store, secrets.Lookup{
		Value:     cfg.Model.APIKey,
		SecretKey: cfg.Model.APIKeySecret,
		EnvKey:    cfg.Model.APIKeyEnv(),
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s api key: %w", providerName(cfg.Model.Provider), err)
	}

	client, err := llm.NewClient(strings.ToLower(cfg.Model.Provider), cfg.Research.QueryGeneratorModel, apiKey, cfg.Model.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Model.Timeout > 0 {
		if t, ok := client.(interface{ SetTimeout(d time.Duration) }); ok {
			t.SetTimeout(cfg.Model.Timeout)
		}
	}
	return llm.NewRateLimitedClient(client, newRateLimiter(cfg.RateLimits)), nil
}

func newRateLimiter(cfg config.RateLimitsConfig) *llm.LLMRateLimiter {
	limits := make(map[string]llm.LLMLimitConfig, len(cfg.LLM))
	for provider, l := range cfg.LLM {
		limits[strings.ToLower(provider)] = llm.LLMLimitConfig{
			TokensPerMinute:   l.TokensPerMinute,
			RequestsPerMinute: l.RequestsPerMinute,
			MaxConcurrent:     l.MaxConcurrent,
		}
	}
	return llm.NewLLMRateLimiter(limits, nil)
}

// newSearcher 创建 Gemini grounded search；凭证缺省时与 gemini 生成器共用
func newSearcher(ctx context.Context, cfg *config.Config) (research.Searcher, error) {
	if p := strings.ToLower(cfg.Search.Provider); p != "" && p != "gemini" {
		return nil, fmt.Errorf("unsupported search provider: %s", cfg.Search.Provider)
	}
	store, err := secretStore(cfg)
	if err != nil {
		return nil, err
	}
	lookup := secrets.Lookup{
		Value:     cfg.Search.APIKey,
		SecretKey: cfg.Search.APIKeySecret,
		EnvKey:    "GEMINI_API_KEY",
	}
	if lookup.Value == "" && providerName(cfg.Model.Provider) == llm.ProviderGemini {
		lookup.Value = cfg.Model.APIKey
		if lookup.SecretKey == "" {
			lookup.SecretKey = cfg.Model.APIKeySecret
		}
	}
	apiKey, err := secrets.Resolve(ctx, store, lookup)
	if err != nil {
		return nil, fmt.Errorf("resolve search api key: %w", err)
	}
	s, err := search.NewGeminiSearcher(ctx, apiKey, cfg.Search.Model)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func providerName(p string) string {
	if p == "" {
		return llm.ProviderGemini
	}
	return strings.ToLower(p)
}
