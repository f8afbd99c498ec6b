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

package runtime

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// AnonymousUser 未提供身份时的默认 user_id
const AnonymousUser = "anonymous"

// Intent 用户消息意图
type Intent string

const (
	IntentWebResearch    Intent = "web_research"
	IntentDirectResponse Intent = "direct_response"
)

// ParseIntent 解析分类器输出，未知标签返回 false
func ParseIntent(s string) (Intent, bool) {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentWebResearch:
		return IntentWebResearch, true
	case IntentDirectResponse:
		return IntentDirectResponse, true
	}
	return "", false
}

// Route 步骤给出的路由决策，由图上的分支映射到目标节点
type Route string

const (
	RouteNone     Route = ""
	RouteResearch Route = "research"
	RouteFinalize Route = "finalize"
)

// Source 生成文本中的引用：ShortURL 为嵌入文本的 token，Value 为真实 URL
type Source struct {
	ShortURL string `json:"short_url"`
	Value    string `json:"value"`
	Label    string `json:"label,omitempty"`
}

// Failure 一次步骤（或扇出实例）失败的记录
type Failure struct {
	Step      string `json:"step"`
	Payload   string `json:"payload,omitempty"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// State 贯穿一次研究运行的共享状态，仅由 Reducer 修改
type State struct {
	Messages          []*schema.Message `json:"messages"`
	SearchQuery       []string          `json:"search_query"`
	WebResearchResult []string          `json:"web_research_result"`
	// SourcesGathered 记录所有发现过的来源；UsedSources 是 finalize 过滤后的结果
	SourcesGathered []Source `json:"sources_gathered"`
	UsedSources     []Source `json:"used_sources"`

	IsSufficient    bool     `json:"is_sufficient"`
	KnowledgeGap    string   `json:"knowledge_gap"`
	FollowUpQueries []string `json:"follow_up_queries"`

	ResearchLoopCount  int `json:"research_loop_count"`
	NumberOfRanQueries int `json:"number_of_ran_queries"`

	UserID                  string `json:"user_id"`
	ReasoningModel          string `json:"reasoning_model,omitempty"`
	InitialSearchQueryCount int    `json:"initial_search_query_count,omitempty"`
	MaxResearchLoops        int    `json:"max_research_loops,omitempty"`

	Intent           Intent    `json:"intent,omitempty"`
	Route            Route     `json:"route,omitempty"`
	Failures         []Failure `json:"failures,omitempty"`
	LoopBoundReached bool      `json:"loop_bound_reached"`
}

// NewState 以初始对话创建状态，userID 为空时使用 AnonymousUser
func NewState(messages []*schema.Message, userID string) *State {
	if strings.TrimSpace(userID) == "" {
		userID = AnonymousUser
	}
	return &State{
		Messages: cloneMessages(messages),
		UserID:   userID,
	}
}

// Clone 深拷贝，快照不与原状态共享切片
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = cloneMessages(s.Messages)
	c.SearchQuery = cloneSlice(s.SearchQuery)
	c.WebResearchResult = cloneSlice(s.WebResearchResult)
	c.SourcesGathered = cloneSlice(s.SourcesGathered)
	c.UsedSources = cloneSlice(s.UsedSources)
	c.FollowUpQueries = cloneSlice(s.FollowUpQueries)
	c.Failures = cloneSlice(s.Failures)
	return &c
}

// LatestUserMessage 最近一条用户消息内容
func (s *State) LatestUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if m := s.Messages[i]; m != nil && m.Role == schema.User {
			return m.Content
		}
	}
	return ""
}

// Answer 最近一条助手消息内容
func (s *State) Answer() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if m := s.Messages[i]; m != nil && m.Role == schema.Assistant {
			return m.Content
		}
	}
	return ""
}

func cloneMessages(in []*schema.Message) []*schema.Message {
	if in == nil {
		return nil
	}
	out := make([]*schema.Message, 0, len(in))
	for _, m := range in {
		if m == nil {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
