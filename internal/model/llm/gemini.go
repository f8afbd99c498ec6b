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

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient Gemini generateContent 客户端
type GeminiClient struct {
	model   string
	apiKey  string
	baseURL string
	client  *resty.Client
}

// NewGeminiClient 创建 Gemini 客户端；baseURL 为空时使用官方地址
func NewGeminiClient(model, apiKey, baseURL string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key", pkgerrors.ErrMissingCredential)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}

	client := resty.New()
	client.SetTimeout(60 * time.Second)

	return &GeminiClient{
		model:   model,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}, nil
}

// SetTimeout 设置单次 HTTP 请求超时
func (c *GeminiClient) SetTimeout(d time.Duration) {
	if d > 0 {
		c.client.SetTimeout(d)
	}
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate 生成文本
func (c *GeminiClient) Generate(ctx context.Context, prompt string, options GenerateOptions) (string, error) {
	generation := map[string]interface{}{
		"temperature": options.Temperature,
	}
	if options.MaxTokens > 0 {
		generation["maxOutputTokens"] = options.MaxTokens
	}
	if options.TopP > 0 {
		generation["topP"] = options.TopP
	}
	if len(options.Stop) > 0 {
		generation["stopSequences"] = options.Stop
	}
	if options.ResponseSchema != nil {
		generation["responseMimeType"] = "application/json"
		generation["responseSchema"] = options.ResponseSchema.Definition
	}

	request := map[string]interface{}{
		"contents": []map[string]interface{}{{
			"role":  "user",
			"parts": []map[string]interface{}{{"text": prompt}},
		}},
		"generationConfig": generation,
	}

	model := modelOrDefault(options, c.model)
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetQueryParam("key", c.apiKey).
		SetBody(request).
		Post(c.baseURL + "/models/" + model + ":generateContent")
	if err != nil {
		return "", transportError(ProviderGemini, fmt.Errorf("调用 Gemini API 失败: %w", err))
	}
	if response.StatusCode() != http.StatusOK {
		return "", statusError(ProviderGemini, response.StatusCode(), response.String())
	}

	var result geminiResponse
	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return "", pkgerrors.Fatal(ProviderGemini, "generate", fmt.Errorf("解析 Gemini 响应失败: %w", err))
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", pkgerrors.Fatal(ProviderGemini, "generate", fmt.Errorf("Gemini API 没有返回文本"))
	}

	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// Model 返回模型名称
func (c *GeminiClient) Model() string { return c.model }

// Provider 返回提供商名称
func (c *GeminiClient) Provider() string { return ProviderGemini }
