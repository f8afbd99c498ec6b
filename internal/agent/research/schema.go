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
	"encoding/json"
	"fmt"
	"strings"

	"research-agent/internal/model/llm"
	pkgerrors "research-agent/pkg/errors"
)

type queryListOutput struct {
	Query     []string `json:"query"`
	Rationale string   `json:"rationale"`
}

type reflectionOutput struct {
	IsSufficient    bool     `json:"is_sufficient"`
	KnowledgeGap    string   `json:"knowledge_gap"`
	FollowUpQueries []string `json:"follow_up_queries"`
}

type factsOutput struct {
	Facts []string `json:"facts"`
}

type intentOutput struct {
	Intention string `json:"intention"`
}

func stringArray() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}

var (
	queryListSchema = &llm.Schema{Name: "search_query_list", Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":     stringArray(),
			"rationale": map[string]any{"type": "string"},
		},
		"required": []string{"query", "rationale"},
	}}
	reflectionSchema = &llm.Schema{Name: "reflection", Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"is_sufficient":     map[string]any{"type": "boolean"},
			"knowledge_gap":     map[string]any{"type": "string"},
			"follow_up_queries": stringArray(),
		},
		"required": []string{"is_sufficient", "knowledge_gap", "follow_up_queries"},
	}}
	factsSchema = &llm.Schema{Name: "memory_facts", Definition: map[string]any{
		"type":       "object",
		"properties": map[string]any{"facts": stringArray()},
		"required":   []string{"facts"},
	}}
	intentSchema = &llm.Schema{Name: "intention", Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"intention": map[string]any{"type": "string", "enum": []string{"web_research", "direct_response"}},
		},
		"required": []string{"intention"},
	}}
)

// decodeJSON 解析生成器的结构化输出（可能被 markdown 包裹），失败为致命错误
func decodeJSON(collaborator, reply string, v any) error {
	reply = strings.TrimSpace(reply)
	if idx := strings.Index(reply, "{"); idx >= 0 {
		if end := strings.LastIndex(reply, "}"); end > idx {
			reply = reply[idx : end+1]
		}
	}
	if err := json.Unmarshal([]byte(reply), v); err != nil {
		return pkgerrors.Fatal(collaborator, "decode", fmt.Errorf("response does not match schema: %w", err))
	}
	return nil
}

// normalizeQueries 去空白、去重（保持顺序）并截断到 limit，limit<=0 不截断
func normalizeQueries(in []string, limit int) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, q := range in {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		k := strings.ToLower(q)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
