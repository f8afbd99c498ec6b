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

package research

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"research-agent/internal/agent/runtime"
	"research-agent/internal/model/llm"
	"research-agent/internal/search"
	"research-agent/internal/storage/cache"
	pkgerrors "research-agent/pkg/errors"
	"research-agent/pkg/log"
)

// Generator 文本生成协作方；llm.Client 满足该接口
type Generator interface {
	Generate(ctx context.Context, prompt string, options llm.GenerateOptions) (string, error)
}

type (
	SearchRequest = search.Request
	SearchResult  = search.Result
)

// Searcher 检索协作方
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
}

// Classifier 意图分类协作方
type Classifier interface {
	Classify(ctx context.Context, message string) (runtime.Intent, error)
}

// GeneratorClassifier 通过生成器做意图分类
type GeneratorClassifier struct {
	gen   Generator
	model string
}

// NewGeneratorClassifier 创建基于生成器的分类器
func NewGeneratorClassifier(gen Generator, model string) *GeneratorClassifier {
	return &GeneratorClassifier{gen: gen, model: model}
}

// Classify 实现 Classifier；未知标签返回致命错误，由调用方决定默认值
func (c *GeneratorClassifier) Classify(ctx context.Context, message string) (runtime.Intent, error) {
	out, err := c.gen.Generate(ctx, classifierPrompt(message), llm.GenerateOptions{
		Model:          c.model,
		Temperature:    0,
		ResponseSchema: intentSchema,
	})
	if err != nil {
		return "", err
	}
	var v intentOutput
	if err := decodeJSON("classifier", out, &v); err != nil {
		return "", err
	}
	intent, ok := runtime.ParseIntent(v.Intention)
	if !ok {
		return "", pkgerrors.Fatal("classifier", "classify", fmt.Errorf("unknown intention %q", v.Intention))
	}
	return intent, nil
}

// CachedSearcher 按查询文本缓存检索结果
type CachedSearcher struct {
	inner  Searcher
	cache  cache.Store
	ttl    time.Duration
	logger *log.Logger
}

// NewCachedSearcher 创建带缓存的 Searcher，logger 可为 nil
func NewCachedSearcher(inner Searcher, store cache.Store, ttl time.Duration, logger *log.Logger) *CachedSearcher {
	if logger == nil {
		logger = log.Discard()
	}
	return &CachedSearcher{inner: inner, cache: store, ttl: ttl, logger: logger}
}

func searchCacheKey(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return "search:" + hex.EncodeToString(sum[:])
}

// cachedSearch 缓存条目；短链 token 绑定写入时的请求 ID
type cachedSearch struct {
	ID     string       `json:"id"`
	Result SearchResult `json:"result"`
}

// Search 实现 Searcher；缓存读写失败只记日志
func (c *CachedSearcher) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	key := searchCacheKey(req.Query)
	var cached cachedSearch
	err := c.cache.Get(ctx, key, &cached)
	if err == nil {
		return rebindShortURLs(&cached.Result, cached.ID, req.ID), nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		c.logger.Warn("search cache get", "error", err)
	}

	res, err := c.inner.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, cachedSearch{ID: req.ID, Result: *res}, c.ttl); err != nil {
		c.logger.Warn("search cache set", "error", err)
	}
	return res, nil
}

// rebindShortURLs 把 from 请求生成的短链 token 改写为 to 请求的，避免同一运行内 token 重复
func rebindShortURLs(res *SearchResult, from, to string) *SearchResult {
	if from == "" || from == to {
		return res
	}
	oldPrefix := search.ShortURLPrefix + from + "-"
	newPrefix := search.ShortURLPrefix + to + "-"
	out := &SearchResult{
		Text:    strings.ReplaceAll(res.Text, oldPrefix, newPrefix),
		Sources: make([]runtime.Source, len(res.Sources)),
	}
	for i, src := range res.Sources {
		if strings.HasPrefix(src.ShortURL, oldPrefix) {
			src.ShortURL = newPrefix + strings.TrimPrefix(src.ShortURL, oldPrefix)
		}
		out.Sources[i] = src
	}
	return out
}
