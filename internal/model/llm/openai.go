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
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	pkgerrors "research-agent/pkg/errors"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient OpenAI 兼容 chat/completions 客户端
type OpenAIClient struct {
	model   string
	apiKey  string
	baseURL string
	client  *resty.Client
}

// NewOpenAIClient 创建 OpenAI 兼容客户端；baseURL 为空时使用官方地址
func NewOpenAIClient(model, apiKey, baseURL string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai api key", pkgerrors.ErrMissingCredential)
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	client := resty.New()
	client.SetTimeout(60 * time.Second)

	return &OpenAIClient{
		model:   model,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}, nil
}

// SetTimeout 设置单次 HTTP 请求超时
func (c *OpenAIClient) SetTimeout(d time.Duration) {
	if d > 0 {
		c.client.SetTimeout(d)
	}
}

// Generate 生成文本
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, options GenerateOptions) (string, error) {
	request := map[string]interface{}{
		"model":       modelOrDefault(options, c.model),
		"messages":    []map[string]string{{"role": "user", "content": prompt}},
		"temperature": options.Temperature,
	}
	if options.MaxTokens > 0 {
		request["max_tokens"] = options.MaxTokens
	}
	if options.TopP > 0 {
		request["top_p"] = options.TopP
	}
	if len(options.Stop) > 0 {
		request["stop"] = options.Stop
	}
	if s := options.ResponseSchema; s != nil {
		request["response_format"] = map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   s.Name,
				"schema": s.Definition,
			},
		}
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetBody(request).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return "", transportError(ProviderOpenAI, fmt.Errorf("调用 OpenAI API failed: %w", err))
	}
	if response.StatusCode() != http.StatusOK {
		return "", statusError(ProviderOpenAI, response.StatusCode(), response.String())
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return "", pkgerrors.Fatal(ProviderOpenAI, "generate", fmt.Errorf("解析 OpenAI 响应failed: %w", err))
	}
	if len(result.Choices) == 0 {
		return "", pkgerrors.Fatal(ProviderOpenAI, "generate", fmt.Errorf("OpenAI API 没有返回结果"))
	}
	return result.Choices[0].Message.Content, nil
}

// Model 返回模型名称
func (c *OpenAIClient) Model() string { return c.model }

// Provider 返回提供商名称
func (c *OpenAIClient) Provider() string { return ProviderOpenAI }
