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
	"encoding/json"
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"research-agent/internal/agent/memory"
	"research-agent/internal/agent/runtime"
	"research-agent/internal/agent/runtime/executor"
	"research-agent/internal/model/llm"
	pkgerrors "research-agent/pkg/errors"
	"research-agent/pkg/metrics"
)

// finalizeAnswer 生成最终答案，替换引用短链接并过滤出被使用的来源
func (a *Agent) finalizeAnswer(ctx context.Context, snap *runtime.State, _ executor.Payload) (*runtime.Delta, error) {
	d := &runtime.Delta{}
	memoryContext, err := a.recall(ctx, snap.UserID)
	if err != nil {
		a.logger.Warn("memory recall failed, answering without memory", "error", err)
		d.Failures = append(d.Failures, failureOf(NodeFinalizeAnswer, "", err))
	}

	topic := researchTopic(snap.Messages)
	prompt := answerPrompt(a.now(), topic, strings.Join(snap.WebResearchResult, "\n---\n\n"), memoryContext)
	answer, err := executor.RetryValue(ctx, a.retry, "generator", func(ctx context.Context) (string, error) {
		return a.gen.Generate(ctx, prompt, llm.GenerateOptions{
			Model:       a.reasoningModel(snap, a.cfg.AnswerModel),
			Temperature: 0,
		})
	})
	if err != nil {
		a.logger.Warn("answer generation failed, returning fallback answer", "error", err)
		d.Failures = append(d.Failures, failureOf(NodeFinalizeAnswer, "", err))
		d.Messages = []*schema.Message{schema.AssistantMessage(fallbackAnswer(topic, snap.WebResearchResult), nil)}
		d.UsedSources = []runtime.Source{}
		return d, nil
	}

	text, used := ReplaceCitations(answer, snap.SourcesGathered)
	d.Messages = []*schema.Message{schema.AssistantMessage(text, nil)}
	d.UsedSources = used
	return d, nil
}

// fallbackAnswer 生成器不可用时的确定性答案
func fallbackAnswer(topic string, fragments []string) string {
	var sb strings.Builder
	sb.WriteString("I could not produce a complete answer: insufficient evidence was gathered for \"")
	sb.WriteString(topic)
	sb.WriteString("\".")
	if len(fragments) > 0 {
		sb.WriteString("\n\nResearch notes:")
		for _, f := range fragments {
			sb.WriteString("\n- ")
			sb.WriteString(strings.TrimSpace(f))
		}
	}
	return sb.String()
}

type memorySnapshot struct {
	UserID       string           `json:"user_id"`
	Messages     []memoryMessage  `json:"messages"`
	SearchQuery  []string         `json:"search_query"`
	KnowledgeGap string           `json:"knowledge_gap,omitempty"`
	Sources      []runtime.Source `json:"sources,omitempty"`
}

type memoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func snapshotJSON(s *runtime.State) (string, error) {
	snap := memorySnapshot{
		UserID:       s.UserID,
		SearchQuery:  s.SearchQuery,
		KnowledgeGap: s.KnowledgeGap,
		Sources:      s.UsedSources,
	}
	for _, m := range s.Messages {
		snap.Messages = append(snap.Messages, memoryMessage{Role: string(m.Role), Content: m.Content})
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// memorize 抽取事实写入长期记忆；相似记录数达到阈值的事实跳过
func (a *Agent) memorize(ctx context.Context, snap *runtime.State, _ executor.Payload) (*runtime.Delta, error) {
	stateJSON, err := snapshotJSON(snap)
	if err != nil {
		return runtime.FailureDelta(failureOf(NodeMemorize, "", err)), nil
	}
	prompt := memoryPrompt(stateJSON)
	out, err := executor.RetryValue(ctx, a.retry, "generator", func(ctx context.Context) (factsOutput, error) {
		var v factsOutput
		reply, err := a.gen.Generate(ctx, prompt, llm.GenerateOptions{
			Model:          a.cfg.QueryGeneratorModel,
			Temperature:    1.0,
			ResponseSchema: factsSchema,
		})
		if err != nil {
			return v, err
		}
		return v, decodeJSON("generator", reply, &v)
	})
	if err != nil {
		a.logger.Warn("fact extraction failed, skipping memorize", "error", err)
		metrics.MemoryWritesTotal.WithLabelValues("failed").Inc()
		return runtime.FailureDelta(failureOf(NodeMemorize, "", err)), nil
	}

	ns := memory.LongTerm(snap.UserID)
	var failures []runtime.Failure
	for _, fact := range out.Facts {
		fact = strings.TrimSpace(fact)
		if fact == "" {
			continue
		}
		stored, err := a.storeFact(ctx, ns, fact)
		switch {
		case err != nil:
			metrics.MemoryWritesTotal.WithLabelValues("failed").Inc()
			failures = append(failures, failureOf(NodeMemorize, fact, err))
			a.logger.Warn("memorize fact failed", "error", err)
		case stored:
			metrics.MemoryWritesTotal.WithLabelValues("stored").Inc()
		default:
			metrics.MemoryWritesTotal.WithLabelValues("skipped").Inc()
		}
		if errors.Is(err, pkgerrors.ErrStoreUnavailable) {
			break
		}
	}
	if len(failures) > 0 {
		return runtime.FailureDelta(failures...), nil
	}
	return &runtime.Delta{}, nil
}

// storeFact 相似记录少于阈值时以新 key 写入，返回是否写入
func (a *Agent) storeFact(ctx context.Context, ns memory.Namespace, fact string) (bool, error) {
	threshold := a.cfg.Memory.Threshold
	similar, err := a.memory.Search(ctx, ns, fact, threshold)
	if err != nil {
		return false, err
	}
	count := 0
	for _, r := range similar {
		if r.Score >= a.cfg.Memory.Similarity {
			count++
		}
	}
	if count >= threshold {
		return false, nil
	}
	if err := a.memory.Put(ctx, ns, uuid.NewString(), fact); err != nil {
		return false, err
	}
	return true, nil
}
