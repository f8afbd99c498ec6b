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
	"fmt"
	"strings"

	"research-agent/internal/agent/memory"
	"research-agent/internal/agent/runtime"
	"research-agent/internal/agent/runtime/executor"
	"research-agent/internal/model/llm"
)

// generateQuery 分类意图并生成首轮查询
func (a *Agent) generateQuery(ctx context.Context, snap *runtime.State, _ executor.Payload) (*runtime.Delta, error) {
	question := snap.LatestUserMessage()
	d := &runtime.Delta{}

	intent, err := executor.RetryValue(ctx, a.retry, "classifier", func(ctx context.Context) (runtime.Intent, error) {
		return a.classifier.Classify(ctx, question)
	})
	if err != nil {
		a.logger.Warn("intent classification failed, defaulting to web_research", "error", err)
		d.Failures = append(d.Failures, failureOf(NodeGenerateQuery, question, err))
		intent = runtime.IntentWebResearch
	}
	d.Intent = &intent
	if intent == runtime.IntentDirectResponse {
		d.SearchQuery = []string{}
		d.Route = runtime.Ptr(runtime.RouteFinalize)
		return d, nil
	}

	count := a.queryCount(snap)
	if snap.InitialSearchQueryCount == 0 {
		d.InitialSearchQueryCount = runtime.Ptr(count)
	}
	prompt := queryWriterPrompt(a.now(), researchTopic(snap.Messages), count)
	out, err := executor.RetryValue(ctx, a.retry, "generator", func(ctx context.Context) (queryListOutput, error) {
		var v queryListOutput
		reply, err := a.gen.Generate(ctx, prompt, llm.GenerateOptions{
			Model:          a.cfg.QueryGeneratorModel,
			Temperature:    1.0,
			ResponseSchema: queryListSchema,
		})
		if err != nil {
			return v, err
		}
		return v, decodeJSON("generator", reply, &v)
	})
	queries := normalizeQueries(out.Query, count)
	if err != nil {
		a.logger.Warn("query generation failed, searching the question itself", "error", err)
		d.Failures = append(d.Failures, failureOf(NodeGenerateQuery, question, err))
	}
	if len(queries) == 0 {
		queries = []string{question}
	}
	d.SearchQuery = queries
	d.Route = runtime.Ptr(runtime.RouteResearch)
	return d, nil
}

// webResearch 单个查询的检索；扇出时每个查询一个实例
func (a *Agent) webResearch(ctx context.Context, snap *runtime.State, p executor.Payload) (*runtime.Delta, error) {
	req := SearchRequest{
		Query: p.Input,
		ID:    fmt.Sprintf("%d-%d", snap.ResearchLoopCount, p.Index),
	}
	res, err := executor.RetryValue(ctx, a.retry, "search", func(ctx context.Context) (*SearchResult, error) {
		return a.searcher.Search(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return &runtime.Delta{
		WebResearchResult: []string{res.Text},
		SourcesGathered:   res.Sources,
	}, nil
}

// reflection 判断证据是否充分并决定下一轮查询；每次执行循环计数加一
func (a *Agent) reflection(ctx context.Context, snap *runtime.State, _ executor.Payload) (*runtime.Delta, error) {
	loop := snap.ResearchLoopCount + 1
	limit := a.maxLoops(snap)
	d := &runtime.Delta{
		LoopIncrement:      1,
		NumberOfRanQueries: runtime.Ptr(len(snap.SearchQuery)),
	}

	memoryContext, err := a.recall(ctx, snap.UserID)
	if err != nil {
		a.logger.Warn("memory recall failed, reflecting without memory", "error", err)
		d.Failures = append(d.Failures, failureOf(NodeReflection, "", err))
	}

	prompt := reflectionPrompt(a.now(), researchTopic(snap.Messages),
		strings.Join(snap.WebResearchResult, "\n\n---\n\n"), memoryContext)
	out, err := executor.RetryValue(ctx, a.retry, "generator", func(ctx context.Context) (reflectionOutput, error) {
		var v reflectionOutput
		reply, err := a.gen.Generate(ctx, prompt, llm.GenerateOptions{
			Model:          a.reasoningModel(snap, a.cfg.ReflectionModel),
			Temperature:    1.0,
			ResponseSchema: reflectionSchema,
		})
		if err != nil {
			return v, err
		}
		return v, decodeJSON("generator", reply, &v)
	})
	if err != nil {
		a.logger.Warn("reflection failed, finalizing with partial results", "loop", loop, "error", err)
		d.Failures = append(d.Failures, failureOf(NodeReflection, "", err))
		d.Route = runtime.Ptr(runtime.RouteFinalize)
		return d, nil
	}

	followUps := normalizeQueries(out.FollowUpQueries, 0)
	d.IsSufficient = runtime.Ptr(out.IsSufficient)
	d.KnowledgeGap = runtime.Ptr(out.KnowledgeGap)
	d.FollowUpQueries = followUps

	switch {
	case out.IsSufficient:
		d.Route = runtime.Ptr(runtime.RouteFinalize)
		return d, nil
	case loop >= limit:
		a.logger.Warn("research loop bound reached, finalizing", "loop", loop, "max", limit)
		d.LoopBoundReached = runtime.Ptr(true)
		d.Route = runtime.Ptr(runtime.RouteFinalize)
		return d, nil
	}

	next := normalizeQueries(followUps, a.cfg.MaxFanOut)
	if len(next) == 0 {
		next = normalizeQueries([]string{out.KnowledgeGap}, 1)
	}
	if len(next) == 0 {
		d.Route = runtime.Ptr(runtime.RouteFinalize)
		return d, nil
	}
	d.SearchQuery = next
	d.Route = runtime.Ptr(runtime.RouteResearch)
	return d, nil
}

// recall 读取用户长期记忆作为 prompt 上下文
func (a *Agent) recall(ctx context.Context, userID string) (string, error) {
	records, err := a.memory.Search(ctx, memory.LongTerm(userID), "", a.cfg.Memory.ContextLimit)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, r := range records {
		sb.WriteString("- " + r.Content + "\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
