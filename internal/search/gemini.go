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

package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"google.golang.org/genai"

	"research-agent/internal/agent/runtime"
	pkgerrors "research-agent/pkg/errors"
)

// ShortURLPrefix 引用占位 URL 前缀
const ShortURLPrefix = "https://vertexaisearch.cloud.google.com/id/"

const collaborator = "search"

// Request 一次检索请求；ID 用于生成唯一的短链接
type Request struct {
	Query string
	ID    string
}

// Result 检索结果：带引用标记的摘要文本与发现的来源
type Result struct {
	Text    string
	Sources []runtime.Source
}

// ContentGenerator genai Models 的最小接口
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiSearcher 基于 Gemini GoogleSearch 工具的检索
type GeminiSearcher struct {
	models ContentGenerator
	model  string
	now    func() time.Time
}

// Option GeminiSearcher 选项
type Option func(*GeminiSearcher)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(s *GeminiSearcher) { s.now = now }
}

// NewGeminiSearcher 使用 API Key 创建 genai 客户端
func NewGeminiSearcher(ctx context.Context, apiKey, model string, opts ...Option) (*GeminiSearcher, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key", pkgerrors.ErrMissingCredential)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return NewGeminiSearcherWithModels(client.Models, model, opts...), nil
}

// NewGeminiSearcherWithModels 使用已有的 ContentGenerator
func NewGeminiSearcherWithModels(models ContentGenerator, model string, opts ...Option) *GeminiSearcher {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	s := &GeminiSearcher{models: models, model: model, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search 执行检索并把 grounding 信息转换为来源与引用标记
func (s *GeminiSearcher) Search(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, pkgerrors.Fatal(collaborator, "search", fmt.Errorf("%w: empty query", pkgerrors.ErrInvalidArg))
	}
	resp, err := s.models.GenerateContent(ctx, s.model, genai.Text(s.prompt(req.Query)), &genai.GenerateContentConfig{
		Tools:       []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return nil, classify(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, pkgerrors.Fatal(collaborator, "search", errors.New("no candidates returned"))
	}

	text := resp.Text()
	meta := resp.Candidates[0].GroundingMetadata
	if meta == nil {
		return &Result{Text: text}, nil
	}
	byChunk := ResolveSources(meta.GroundingChunks, req.ID)
	sources := make([]runtime.Source, 0, len(byChunk))
	for i := range meta.GroundingChunks {
		if src, ok := byChunk[i]; ok {
			sources = append(sources, src)
		}
	}
	return &Result{
		Text:    InsertCitations(text, meta.GroundingSupports, byChunk),
		Sources: sources,
	}, nil
}

func (s *GeminiSearcher) prompt(query string) string {
	return fmt.Sprintf(`Conduct targeted Google Searches to gather the most recent, credible information on "%s" and synthesize it into a verifiable text artifact.

Instructions:
- The current date is %s.
- Conduct multiple, diverse searches to gather comprehensive information.
- Consolidate key findings while meticulously tracking the source(s) for each specific piece of information.
- Only include the information found in the search results, don't make up any information.

Research Topic:
%s`, query, s.now().Format("January 2, 2006"), query)
}

// ResolveSources 为每个带 web URI 的 grounding chunk 生成短链接，键为 chunk 下标
func ResolveSources(chunks []*genai.GroundingChunk, id string) map[int]runtime.Source {
	out := make(map[int]runtime.Source, len(chunks))
	for i, chunk := range chunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		label := chunk.Web.Title
		if label == "" {
			label = chunk.Web.Domain
		}
		if label == "" {
			label = chunk.Web.URI
		}
		out[i] = runtime.Source{
			ShortURL: fmt.Sprintf("%s%s-%d", ShortURLPrefix, id, i),
			Value:    chunk.Web.URI,
			Label:    label,
		}
	}
	return out
}

// InsertCitations 在每个 support 段落结束的字节偏移处插入 " [label](short_url)"，从文本末尾往前处理
func InsertCitations(text string, supports []*genai.GroundingSupport, sources map[int]runtime.Source) string {
	type insertion struct {
		at     int
		seq    int
		marker string
	}
	var inserts []insertion
	for _, sup := range supports {
		if sup == nil || sup.Segment == nil {
			continue
		}
		var sb strings.Builder
		for _, idx := range sup.GroundingChunkIndices {
			src, ok := sources[int(idx)]
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, " [%s](%s)", src.Label, src.ShortURL)
		}
		if sb.Len() == 0 {
			continue
		}
		at := int(sup.Segment.EndIndex)
		if at < 0 {
			at = 0
		}
		if at > len(text) {
			at = len(text)
		}
		inserts = append(inserts, insertion{at: at, seq: len(inserts), marker: sb.String()})
	}
	// 相同偏移时后出现的先插入，最终保持原顺序
	sort.Slice(inserts, func(i, j int) bool {
		if inserts[i].at != inserts[j].at {
			return inserts[i].at > inserts[j].at
		}
		return inserts[i].seq > inserts[j].seq
	})
	for _, ins := range inserts {
		text = text[:ins.at] + ins.marker + text[ins.at:]
	}
	return text
}

// classify 按 HTTP 状态码区分瞬时与致命错误
func classify(err error) error {
	code := 0
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.Code
	}
	switch {
	case errors.Is(err, context.Canceled):
		return pkgerrors.Fatal(collaborator, "search", err)
	case code == 0, code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return pkgerrors.Transient(collaborator, "search", err)
	default:
		return pkgerrors.Fatal(collaborator, "search", err)
	}
}
