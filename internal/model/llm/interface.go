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
	"errors"
	"fmt"
	"net/http"

	pkgerrors "research-agent/pkg/errors"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderEino   = "eino"
)

// Client 文本生成客户端
type Client interface {
	// Generate 生成文本；options.ResponseSchema 非空时要求模型输出符合该 schema 的 JSON
	Generate(ctx context.Context, prompt string, options GenerateOptions) (string, error)
	// Model 返回默认模型名称
	Model() string
	// Provider 返回提供商名称
	Provider() string
}

// GenerateOptions 生成选项
type GenerateOptions struct {
	// Model 为空时使用客户端默认模型
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
	Stop        []string
	// ResponseSchema 结构化输出约束
	ResponseSchema *Schema
}

// Schema 结构化输出的 JSON Schema
type Schema struct {
	Name       string
	Definition map[string]any
}

// NewClient 创建 LLM 客户端
func NewClient(provider, model, apiKey, baseURL string) (Client, error) {
	switch provider {
	case ProviderGemini, "":
		return NewGeminiClient(model, apiKey, baseURL)
	case ProviderOpenAI:
		return NewOpenAIClient(model, apiKey, baseURL)
	case ProviderEino:
		return NewEinoOpenAIClient(context.Background(), model, apiKey, baseURL)
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider %q", pkgerrors.ErrInvalidArg, provider)
	}
}

func modelOrDefault(options GenerateOptions, fallback string) string {
	if options.Model != "" {
		return options.Model
	}
	return fallback
}

// statusError 按 HTTP 状态码分类：408/429/5xx 可重试，其余 4xx 为致命错误
func statusError(provider string, status int, body string) error {
	err := fmt.Errorf("%s API 返回 %d: %s", provider, status, truncate(body, 512))
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500 {
		return pkgerrors.Transient(provider, "generate", err)
	}
	return pkgerrors.Fatal(provider, "generate", err)
}

// transportError 网络层错误可重试，调用方取消不重试
func transportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return pkgerrors.Fatal(provider, "generate", err)
	}
	return pkgerrors.Transient(provider, "generate", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
