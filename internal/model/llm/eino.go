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
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	pkgerrors "research-agent/pkg/errors"
)

// EinoClient 基于 eino ChatModel 的客户端
type EinoClient struct {
	chatModel model.BaseChatModel
	model     string
}

// NewEinoClient 包装任意 eino ChatModel
func NewEinoClient(chatModel model.BaseChatModel, modelName string) *EinoClient {
	return &EinoClient{chatModel: chatModel, model: modelName}
}

// NewEinoOpenAIClient 通过 eino-ext openai 创建 ChatModel
func NewEinoOpenAIClient(ctx context.Context, modelName, apiKey, baseURL string) (*EinoClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: eino openai api key", pkgerrors.ErrMissingCredential)
	}
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:   modelName,
		APIKey:  apiKey,
		BaseURL: baseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 OpenAI ChatModel failed: %w", err)
	}
	return NewEinoClient(chatModel, modelName), nil
}

// Generate 生成文本；ResponseSchema 以提示词附加 schema 的方式约束输出
func (c *EinoClient) Generate(ctx context.Context, prompt string, options GenerateOptions) (string, error) {
	if s := options.ResponseSchema; s != nil {
		raw, err := json.Marshal(s.Definition)
		if err != nil {
			return "", pkgerrors.Fatal(ProviderEino, "generate", err)
		}
		prompt += "\n\nRespond only with a JSON object matching this schema:\n" + string(raw)
	}

	opts := []model.Option{
		model.WithModel(modelOrDefault(options, c.model)),
		model.WithTemperature(float32(options.Temperature)),
	}
	if options.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(options.MaxTokens))
	}
	if options.TopP > 0 {
		opts = append(opts, model.WithTopP(float32(options.TopP)))
	}
	if len(options.Stop) > 0 {
		opts = append(opts, model.WithStop(options.Stop))
	}

	msg, err := c.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)}, opts...)
	if err != nil {
		var ce *pkgerrors.CollaboratorError
		if errors.As(err, &ce) {
			return "", err
		}
		return "", transportError(ProviderEino, err)
	}
	if msg == nil {
		return "", pkgerrors.Fatal(ProviderEino, "generate", fmt.Errorf("ChatModel 没有返回消息"))
	}
	return msg.Content, nil
}

// Model 返回模型名称
func (c *EinoClient) Model() string { return c.model }

// Provider 返回提供商名称
func (c *EinoClient) Provider() string { return ProviderEino }
